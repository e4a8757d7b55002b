package openhab

// Credentials is the saved login of one user: the server root plus the basic
// authentication pair. Valid is set only after the server was reachable and
// accepted the username and password.
type Credentials struct {
	ServerURL string `json:"server_url"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Valid     bool   `json:"valid"`
}

// IsZero reports whether no field of c is set.
func (c Credentials) IsZero() bool {
	return c == Credentials{}
}

// ChatResponse is the reply of the HABot chat endpoint.
type ChatResponse struct {
	Language string  `json:"language,omitempty"`
	Query    string  `json:"query,omitempty"`
	Answer   string  `json:"answer"`
	Hint     string  `json:"hint,omitempty"`
	Intent   *Intent `json:"intent,omitempty"`
	Card     *Card   `json:"card,omitempty"`
}

// Intent is the interpretation HABot made of the query.
type Intent struct {
	Name     string            `json:"name"`
	Entities map[string]string `json:"entities,omitempty"`
}

// Card is a structured reply. Its body is laid out by the slot groups.
type Card struct {
	UID      string     `json:"uid,omitempty"`
	Title    string     `json:"title,omitempty"`
	Subtitle string     `json:"subtitle,omitempty"`
	Slots    *SlotGroup `json:"slots,omitempty"`
}

// SlotGroup holds the named child slot lists of a card or slot.
type SlotGroup struct {
	List  []Slot `json:"list,omitempty"`
	Right []Slot `json:"right,omitempty"`
}

// Slot is one unit of card content. Slots nest through Slots.
type Slot struct {
	Component string     `json:"component"`
	Config    SlotConfig `json:"config"`
	Slots     *SlotGroup `json:"slots,omitempty"`
}

// SlotConfig carries the display label and the bound item of a slot.
type SlotConfig struct {
	Label string `json:"label,omitempty"`
	Item  string `json:"item,omitempty"`
}

// Item is the subset of an openHAB item returned by the items endpoint that
// the bot reports on.
type Item struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
	Type  string `json:"type,omitempty"`
	State string `json:"state,omitempty"`
}
