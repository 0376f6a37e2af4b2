package box

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		index     int
		template  string
		host      string
		firstCard int
	}{
		{index: 1, template: DefaultHostTemplate, host: "cbhv01", firstCard: 1},
		{index: 4, template: DefaultHostTemplate, host: "cbhv04", firstCard: 16},
		{index: 18, template: "", host: "cbhv18", firstCard: 86},
		{index: 7, template: "hv-%d.lab", host: "hv-7.lab", firstCard: 31},
	}
	for _, tt := range tests {
		b, err := New(tt.index, tt.template)
		if err != nil {
			t.Fatalf("New(%d, %q) err = %v", tt.index, tt.template, err)
		}
		if b.Host != tt.host || b.FirstCard != tt.firstCard {
			t.Errorf("New(%d, %q) = %+v, want host %s first card %d", tt.index, tt.template, b, tt.host, tt.firstCard)
		}
	}
}

func TestNewRejects(t *testing.T) {
	for _, template := range []string{"cbhv", "cbhv%s", "cbhv%d-%d"} {
		if _, err := New(1, template); !errors.Is(err, ErrBadTemplate) {
			t.Errorf("New(1, %q) err = %v, want ErrBadTemplate", template, err)
		}
	}
	if _, err := New(0, DefaultHostTemplate); err == nil {
		t.Errorf("New(0) should fail")
	}
}

func TestCards(t *testing.T) {
	b, _ := New(3, DefaultHostTemplate)
	cards := b.Cards()
	if len(cards) != CardsPerBox {
		t.Fatalf("len(Cards()) = %d", len(cards))
	}
	for i, c := range cards {
		if c.Slot != i || c.Number != 11+i {
			t.Errorf("card %d = %+v", i, c)
		}
	}
}

func TestResultFinish(t *testing.T) {
	r := Result{Phase: PhasePersisted, Cards: []CardResult{{Status: CardOK}, {Status: CardOK}}}
	r.Finish()
	if r.Overall != OverallOK {
		t.Errorf("Overall = %s, want ok", r.Overall)
	}

	r.Cards = append(r.Cards, CardResult{Status: CardParseError})
	r.Finish()
	if r.Overall != OverallPartial {
		t.Errorf("Overall = %s, want partial", r.Overall)
	}

	r.Abort(StepProtect, 0)
	r.Finish()
	if r.Overall != OverallDead {
		t.Errorf("Overall = %s, want dead", r.Overall)
	}
}
