package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/weave/internal/doc"
	"github.com/roach88/weave/internal/value"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks assertions against d and returns one message
// per failure.
func EvaluateAssertions(d *doc.Document, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(d, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %s", i, err))
		}
	}
	return errs
}

func evaluate(d *doc.Document, a Assertion) error {
	switch a.Type {
	case AssertText:
		return assertText(d, a)
	case AssertMapEntry:
		return assertMapEntry(d, a)
	case AssertArray:
		return assertArray(d, a)
	case AssertState:
		return assertState(d, a)
	case AssertPending:
		return assertPending(d, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertText(d *doc.Document, a Assertion) error {
	want := fmt.Sprint(a.Expect)
	if a.Expect == nil {
		want = ""
	}
	if got := d.GetText(a.Container); got != want {
		return &AssertionError{
			Type:     AssertText,
			Expected: fmt.Sprintf("%s = %q", a.Container, want),
			Actual:   fmt.Sprintf("%q", got),
		}
	}
	return nil
}

func assertMapEntry(d *doc.Document, a Assertion) error {
	got, ok := d.GetMap(a.Container)[a.Key]
	if a.Expect == nil {
		if ok {
			return &AssertionError{
				Type:     AssertMapEntry,
				Expected: fmt.Sprintf("%s[%q] absent", a.Container, a.Key),
				Actual:   string(value.MustMarshalCanonical(got)),
			}
		}
		return nil
	}

	want, err := value.From(a.Expect)
	if err != nil {
		return fmt.Errorf("map_entry expect: %w", err)
	}
	if !ok || !value.Equal(want, got) {
		actual := "absent"
		if ok {
			actual = string(value.MustMarshalCanonical(got))
		}
		return &AssertionError{
			Type:     AssertMapEntry,
			Expected: fmt.Sprintf("%s[%q] = %s", a.Container, a.Key, value.MustMarshalCanonical(want)),
			Actual:   actual,
		}
	}
	return nil
}

func assertArray(d *doc.Document, a Assertion) error {
	want := value.Array{}
	if a.Expect != nil {
		conv, err := value.From(a.Expect)
		if err != nil {
			return fmt.Errorf("array expect: %w", err)
		}
		arr, ok := conv.(value.Array)
		if !ok {
			return fmt.Errorf("array expect must be a list, got %T", a.Expect)
		}
		want = arr
	}
	got := value.Array(d.GetArray(a.Container))
	if got == nil {
		got = value.Array{}
	}
	if !value.Equal(want, got) {
		return &AssertionError{
			Type:     AssertArray,
			Expected: fmt.Sprintf("%s = %s", a.Container, value.MustMarshalCanonical(want)),
			Actual:   string(value.MustMarshalCanonical(got)),
		}
	}
	return nil
}

func assertState(d *doc.Document, a Assertion) error {
	want, _ := a.Expect.(string)
	got, err := d.CanonicalJSON()
	if err != nil {
		return err
	}
	if strings.TrimSpace(want) != string(got) {
		return &AssertionError{
			Type:     AssertState,
			Expected: strings.TrimSpace(want),
			Actual:   string(got),
		}
	}
	return nil
}

func assertPending(d *doc.Document, a Assertion) error {
	want, _ := a.Expect.(int)
	if got := d.PendingCount(); got != want {
		return &AssertionError{
			Type:     AssertPending,
			Expected: fmt.Sprintf("%d pending operations", want),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}
