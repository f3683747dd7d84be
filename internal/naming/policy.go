// Package naming derives destination addresses from a source address.
package naming

import (
	"fmt"
	"strings"

	"github.com/andresuchdata/thumbnailer/internal/domain"
)

const opDerive = "derive_destinations"

// Preset names.
const (
	PresetRelocate = "relocate"
	PresetSuffix   = "suffix"
)

// BucketRule rewrites a source bucket name: the first occurrence of Find is
// replaced by Replace, then Suffix is appended.
type BucketRule struct {
	Find    string `json:"find,omitempty"`
	Replace string `json:"replace,omitempty"`
	Suffix  string `json:"suffix,omitempty"`
}

// Apply returns the rewritten bucket name.
func (r BucketRule) Apply(bucket string) string {
	out := bucket
	if r.Find != "" {
		out = strings.Replace(out, r.Find, r.Replace, 1)
	}
	return out + r.Suffix
}

// Policy is a pure mapping from a source address to a Plan.
type Policy struct {
	Primary      BucketRule
	Archive      *BucketRule
	KeyPrefix    string
	DeleteSource bool
}

// Plan is the set of addresses one invocation will touch.
type Plan struct {
	Source       domain.ObjectAddress
	Primary      domain.ObjectAddress
	Archive      *domain.ObjectAddress
	DeleteSource bool
}

// Destinations lists the write targets in the order they are written.
func (p Plan) Destinations() []domain.ObjectAddress {
	out := []domain.ObjectAddress{p.Primary}
	if p.Archive != nil {
		out = append(out, *p.Archive)
	}
	return out
}

// Preset returns one of the built-in policies.
func Preset(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PresetRelocate:
		return RelocatePolicy(), nil
	case PresetSuffix:
		return SuffixPolicy(), nil
	default:
		return Policy{}, fmt.Errorf("unknown naming preset %q", name)
	}
}

// RelocatePolicy publishes the thumbnail to the "processed" sibling of an
// "incoming" bucket, archives the original to the "raw" sibling and removes
// it from the incoming bucket.
func RelocatePolicy() Policy {
	return Policy{
		Primary:      BucketRule{Find: "incoming", Replace: "processed"},
		Archive:      &BucketRule{Find: "incoming", Replace: "raw"},
		DeleteSource: true,
	}
}

// SuffixPolicy writes a "resized-" prefixed thumbnail to "<bucket>-resized"
// and leaves the source untouched.
func SuffixPolicy() Policy {
	return Policy{
		Primary:   BucketRule{Suffix: "-resized"},
		KeyPrefix: "resized-",
	}
}

// Derive computes the plan for src. It fails with an invalid configuration
// error when any destination bucket equals the source bucket.
func (p Policy) Derive(src domain.ObjectAddress) (Plan, error) {
	if err := src.Validate(); err != nil {
		return Plan{}, domain.Wrap(domain.KindInvalidConfiguration, opDerive, "source address is incomplete", err)
	}

	plan := Plan{
		Source:       src,
		Primary:      domain.NewObjectAddress(p.Primary.Apply(src.Bucket), p.KeyPrefix+src.Key),
		DeleteSource: p.DeleteSource,
	}
	if p.Archive != nil {
		archive := domain.NewObjectAddress(p.Archive.Apply(src.Bucket), src.Key)
		plan.Archive = &archive
	}

	for _, dst := range plan.Destinations() {
		if dst.Bucket == src.Bucket {
			return Plan{}, domain.NewError(domain.KindInvalidConfiguration, opDerive,
				fmt.Sprintf("destination bucket %q must not match source bucket", dst.Bucket))
		}
		if strings.TrimSpace(dst.Bucket) == "" {
			return Plan{}, domain.NewError(domain.KindInvalidConfiguration, opDerive, "destination bucket is empty")
		}
	}

	return plan, nil
}

func (p Policy) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "primary=%s", describeRule(p.Primary))
	if p.KeyPrefix != "" {
		fmt.Fprintf(&b, " key_prefix=%q", p.KeyPrefix)
	}
	if p.Archive != nil {
		fmt.Fprintf(&b, " archive=%s", describeRule(*p.Archive))
	}
	fmt.Fprintf(&b, " delete_source=%t", p.DeleteSource)
	return b.String()
}

func describeRule(r BucketRule) string {
	switch {
	case r.Find != "" && r.Suffix != "":
		return fmt.Sprintf("%q->%q+%q", r.Find, r.Replace, r.Suffix)
	case r.Find != "":
		return fmt.Sprintf("%q->%q", r.Find, r.Replace)
	case r.Suffix != "":
		return fmt.Sprintf("+%q", r.Suffix)
	default:
		return "identity"
	}
}
