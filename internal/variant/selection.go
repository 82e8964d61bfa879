// Package variant tracks an in-progress variant choice for one product.
package variant

import (
	"errors"
	"fmt"
	"slices"

	"github.com/fjod/go_storefront/internal/domain"
)

var (
	ErrUnknownAxis   = errors.New("unknown variant axis")
	ErrUnknownOption = errors.New("option not offered for axis")
	ErrIncomplete    = errors.New("variant selection incomplete")
)

// Selection holds at most one chosen option per declared axis.
type Selection struct {
	axes   []domain.Variant
	chosen map[string]string
}

func NewSelection(axes []domain.Variant) *Selection {
	return &Selection{
		axes:   axes,
		chosen: make(map[string]string, len(axes)),
	}
}

// SelectOption sets or overwrites the choice for one axis. Axes and options the
// product does not declare are rejected and leave the selection unchanged.
func (s *Selection) SelectOption(axis, option string) error {
	v, ok := s.axis(axis)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAxis, axis)
	}
	if !slices.Contains(v.Options, option) {
		return fmt.Errorf("%w: %q has no %q", ErrUnknownOption, axis, option)
	}
	s.chosen[axis] = option
	return nil
}

// SelectAll applies every pair in choices, stopping at the first rejected one.
func (s *Selection) SelectAll(choices map[string]string) error {
	for _, axis := range domain.SortedAxes(choices) {
		if err := s.SelectOption(axis, choices[axis]); err != nil {
			return err
		}
	}
	return nil
}

// IsComplete reports whether every declared axis has a choice.
func (s *Selection) IsComplete() bool {
	for _, v := range s.axes {
		if _, ok := s.chosen[v.Name]; !ok {
			return false
		}
	}
	return true
}

// Missing lists declared axes without a choice, in declaration order.
func (s *Selection) Missing() []string {
	var missing []string
	for _, v := range s.axes {
		if _, ok := s.chosen[v.Name]; !ok {
			missing = append(missing, v.Name)
		}
	}
	return missing
}

// Selected returns a copy of the current choices.
func (s *Selection) Selected() map[string]string {
	return domain.CloneVariants(s.chosen)
}

// Complete returns the choices when every axis is set, otherwise ErrIncomplete.
func (s *Selection) Complete() (map[string]string, error) {
	if !s.IsComplete() {
		return nil, fmt.Errorf("%w: missing %v", ErrIncomplete, s.Missing())
	}
	return s.Selected(), nil
}

func (s *Selection) axis(name string) (domain.Variant, bool) {
	for _, v := range s.axes {
		if v.Name == name {
			return v, true
		}
	}
	return domain.Variant{}, false
}
