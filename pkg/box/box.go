package box

import (
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

const (
	// CardsPerBox is the number of HV cards in one box.
	CardsPerBox = 5
	// DefaultHostTemplate turns a box index into its host name.
	DefaultHostTemplate = "cbhv%02d"
	// DefaultBoxCount is the number of boxes in the full installation.
	DefaultBoxCount = 18
)

// ErrBadTemplate is returned when a host template does not take exactly one
// integer.
var ErrBadTemplate = pkgerrors.New("host template must contain exactly one integer verb")

// Box is one CB HV box. Boxes are numbered from 1 and box n carries the
// cards 5n-4 to 5n.
type Box struct {
	Index     int    `json:"index"`
	Host      string `json:"host"`
	FirstCard int    `json:"firstCard"`
}

// Card is one HV card inside a box. Slot is its position in the box,
// starting at 0, and is what the device commands address.
type Card struct {
	Number int
	Slot   int
}

// New returns box index addressed through hostTemplate.
func New(index int, hostTemplate string) (Box, error) {
	if index < 1 {
		return Box{}, pkgerrors.Errorf("invalid box index %d", index)
	}
	host, err := HostName(hostTemplate, index)
	if err != nil {
		return Box{}, err
	}
	return Box{
		Index:     index,
		Host:      host,
		FirstCard: index*CardsPerBox - CardsPerBox + 1,
	}, nil
}

// HostName formats the host name of box index.
func HostName(template string, index int) (string, error) {
	if template == "" {
		template = DefaultHostTemplate
	}
	host := fmt.Sprintf(template, index)
	// fmt reports wrong, missing and extra verbs inline with "%!".
	if strings.Contains(host, "%!") {
		return "", pkgerrors.Wrapf(ErrBadTemplate, "template %q", template)
	}
	return host, nil
}

// Cards returns the cards of b in slot order.
func (b Box) Cards() []Card {
	cards := make([]Card, 0, CardsPerBox)
	for slot := 0; slot < CardsPerBox; slot++ {
		cards = append(cards, Card{Number: b.FirstCard + slot, Slot: slot})
	}
	return cards
}

func (b Box) String() string {
	return b.Host
}

// DefaultIndices returns the indices of the full installation.
func DefaultIndices() []int {
	indices := make([]int, 0, DefaultBoxCount)
	for i := 1; i <= DefaultBoxCount; i++ {
		indices = append(indices, i)
	}
	return indices
}
