package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/driftline/worldcore/internal/catalog"
	"github.com/driftline/worldcore/internal/world"
)

var (
	// ErrNotFound means no candidate matched the label.
	ErrNotFound = errors.New("no entity matches that description")

	// ErrAmbiguous means several candidates matched equally well. The
	// resolver fails closed rather than guessing.
	ErrAmbiguous = errors.New("description matches more than one entity")

	// ErrUntrustedIdentifier means the label looks like a raw instance id.
	// Identifiers must originate from a lookup, never from interpreter text.
	ErrUntrustedIdentifier = errors.New("labels must be descriptions, not identifiers")
)

var fold = cases.Fold()

// Resolver maps semantic labels from the external interpreter to canonical
// instance ids within a caller-supplied candidate set (usually the result
// of a nearby-entity query). It never returns an id outside that set.
type Resolver struct {
	catalog *catalog.Catalog
}

func NewResolver(cat *catalog.Catalog) *Resolver {
	return &Resolver{catalog: cat}
}

// Resolve returns exactly one instance id for the label, or fails with
// ErrAmbiguous, ErrNotFound, or ErrUntrustedIdentifier.
//
// Matching precedence: exact template-name match, then alias match, then
// template-id-suffix match. A tie at the winning tier is ambiguous.
func (r *Resolver) Resolve(label string, candidates []*world.Instance) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", fmt.Errorf("%w: empty label", ErrNotFound)
	}

	if err := r.rejectIdentifier(label, candidates); err != nil {
		return "", err
	}

	folded := fold.String(label)

	tiers := []func(string, *world.Instance, *catalog.Template) bool{
		matchName,
		matchAlias,
		matchTemplateSuffix,
	}

	for _, match := range tiers {
		var hits []string
		for _, inst := range candidates {
			tmpl := r.catalog.Get(inst.TemplateId)
			if match(folded, inst, tmpl) {
				hits = append(hits, inst.InstanceId)
			}
		}

		switch len(hits) {
		case 0:
			continue
		case 1:
			return hits[0], nil
		default:
			return "", fmt.Errorf("%w: %q", ErrAmbiguous, label)
		}
	}

	return "", fmt.Errorf("%w: %q", ErrNotFound, label)
}

// rejectIdentifier refuses labels that are identifier-shaped: uuids, or
// strings equal to an instance id in the candidate set. This keeps the
// interpreter from fabricating or guessing canonical ids.
func (r *Resolver) rejectIdentifier(label string, candidates []*world.Instance) error {
	if _, err := uuid.Parse(label); err == nil {
		return fmt.Errorf("%w: %q", ErrUntrustedIdentifier, label)
	}
	for _, inst := range candidates {
		if label == inst.InstanceId {
			return fmt.Errorf("%w: %q", ErrUntrustedIdentifier, label)
		}
	}
	return nil
}

func matchName(folded string, _ *world.Instance, tmpl *catalog.Template) bool {
	return tmpl != nil && fold.String(tmpl.Name) == folded
}

func matchAlias(folded string, _ *world.Instance, tmpl *catalog.Template) bool {
	if tmpl == nil {
		return false
	}
	for _, alias := range tmpl.Aliases {
		if fold.String(alias) == folded {
			return true
		}
	}
	return false
}

// matchTemplateSuffix treats the template id as words (underscores and
// hyphens as separators) and matches labels that equal a trailing run of
// those words, so "bottle" finds template "dream_bottle".
func matchTemplateSuffix(folded string, inst *world.Instance, _ *catalog.Template) bool {
	words := strings.FieldsFunc(fold.String(inst.TemplateId), func(r rune) bool {
		return r == '_' || r == '-'
	})
	labelWords := strings.Fields(folded)
	if len(labelWords) == 0 || len(labelWords) > len(words) {
		return false
	}

	tail := words[len(words)-len(labelWords):]
	for i, w := range tail {
		if w != labelWords[i] {
			return false
		}
	}
	return true
}
