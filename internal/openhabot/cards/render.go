package cards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bdobrica/openhabot/internal/openhabot/openhab"
)

// ErrFetchFailed wraps a failed item state read during rendering.
var ErrFetchFailed = errors.New("cards: item fetch failed")

// unavailable stands in for an item value that could not be read.
const unavailable = "unavailable"

// Component is the closed set of slot tags the renderer understands.
type Component int

const (
	ComponentUnknown Component = iota
	ComponentSingleItemValue
	ComponentList
)

// ParseComponent maps a HABot component tag to a Component. Tags are
// accepted with and without HABot's "Hb" prefix.
func ParseComponent(tag string) Component {
	switch strings.TrimPrefix(tag, "Hb") {
	case "SingleItemValue":
		return ComponentSingleItemValue
	case "List":
		return ComponentList
	default:
		return ComponentUnknown
	}
}

// ItemStateFetcher reads the current state of an item. *openhab.Client
// satisfies it.
type ItemStateFetcher interface {
	ItemState(ctx context.Context, name string) (string, error)
}

// Renderer renders HABot cards, reading item values through items.
type Renderer struct {
	items ItemStateFetcher
}

// NewRenderer returns a Renderer backed by items.
func NewRenderer(items ItemStateFetcher) *Renderer {
	return &Renderer{items: items}
}

// RenderCard renders card, main slots first and right slots after. It returns
// nil for a nil card.
func (r *Renderer) RenderCard(ctx context.Context, card *openhab.Card) *Card {
	if card == nil {
		return nil
	}
	out := &Card{Title: card.Title, Subtitle: card.Subtitle, Body: []Element{}}
	if card.Slots == nil {
		return out
	}
	for _, group := range [][]openhab.Slot{card.Slots.List, card.Slots.Right} {
		for _, slot := range group {
			out.Body = append(out.Body, r.RenderSlot(ctx, slot))
		}
	}
	return out
}

// RenderSlot renders one slot. It never fails: unknown components and
// unreadable items degrade to text.
func (r *Renderer) RenderSlot(ctx context.Context, slot openhab.Slot) Element {
	switch ParseComponent(slot.Component) {
	case ComponentSingleItemValue:
		value, err := r.fetch(ctx, slot.Config.Item)
		if err != nil {
			value = unavailable
		}
		if slot.Config.Label == "" {
			return TextBlock{Text: value}
		}
		return TextBlock{Text: slot.Config.Label + " = " + value}

	case ComponentList:
		list := FactList{Facts: []TextFact{}}
		if slot.Slots == nil {
			return list
		}
		for _, child := range slot.Slots.List {
			value, err := r.fetch(ctx, child.Config.Item)
			if err != nil {
				value = unavailable
			}
			list.Facts = append(list.Facts, TextFact{
				Title:  child.Config.Label,
				Value:  value,
				Speech: child.Config.Label + " is " + value,
			})
		}
		return list

	default:
		return TextBlock{Text: "Component: " + slot.Component}
	}
}

func (r *Renderer) fetch(ctx context.Context, item string) (string, error) {
	if item == "" {
		return "", fmt.Errorf("%w: slot has no item", ErrFetchFailed)
	}
	if r.items == nil {
		return "", fmt.Errorf("%w: no item source", ErrFetchFailed)
	}
	value, err := r.items.ItemState(ctx, item)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrFetchFailed, item, err)
		slog.WarnContext(ctx, "cards: item state unavailable", "item", item, "err", err)
		return "", err
	}
	return value, nil
}

var _ ItemStateFetcher = (*openhab.Client)(nil)
