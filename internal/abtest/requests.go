package abtest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/foxzi/sendry-ab/internal/distribution"
	"github.com/foxzi/sendry-ab/internal/models"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// VariantInput describes one variant of a new test. Empty content fields
// fall back to the campaign's own subject, content and sender name.
type VariantInput struct {
	Label                 string  `json:"label" yaml:"label" validate:"required,oneof=A B C D E"`
	Subject               string  `json:"subject,omitempty" yaml:"subject,omitempty"`
	Content               string  `json:"content,omitempty" yaml:"content,omitempty"`
	FromName              string  `json:"from_name,omitempty" yaml:"from_name,omitempty"`
	SendTimeOffsetMinutes int     `json:"send_time_offset_minutes,omitempty" yaml:"send_time_offset_minutes,omitempty" validate:"gte=0"`
	SplitPercentage       float64 `json:"split_percentage" yaml:"split_percentage" validate:"gte=0,lte=100"`
}

// CreateRequest configures a campaign as an A/B test.
// Zero values of the numeric settings select the defaults.
type CreateRequest struct {
	CampaignID        string                `json:"campaign_id" yaml:"campaign_id" validate:"required"`
	TestType          models.TestType       `json:"test_type" yaml:"test_type" validate:"required,oneof=subject content send_time from_name combined"`
	WinnerCriteria    models.WinnerCriteria `json:"winner_criteria" yaml:"winner_criteria" validate:"required,oneof=open_rate click_rate conversion_rate revenue"`
	AutoSelectWinner  bool                  `json:"auto_select_winner" yaml:"auto_select_winner"`
	TestDurationHours int                   `json:"test_duration_hours" yaml:"test_duration_hours" validate:"gte=1"`
	ConfidenceLevel   float64               `json:"confidence_level" yaml:"confidence_level" validate:"gte=90,lte=99.9"`
	MinSampleSize     int                   `json:"min_sample_size" yaml:"min_sample_size" validate:"gte=50"`
	Variants          []VariantInput        `json:"variants" yaml:"variants" validate:"required,min=2,max=5,dive"`
}

func (r *CreateRequest) applyDefaults() {
	if r.TestDurationHours == 0 {
		r.TestDurationHours = models.DefaultTestDurationHours
	}
	if r.ConfidenceLevel == 0 {
		r.ConfidenceLevel = models.DefaultConfidenceLevel
	}
	if r.MinSampleSize == 0 {
		r.MinSampleSize = models.DefaultMinSampleSize
	}
}

// Validate checks the request shape, label uniqueness and the split total
func (r *CreateRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return invalid("%s", describeValidation(err))
	}

	seen := make(map[string]bool, len(r.Variants))
	variants := make([]models.Variant, 0, len(r.Variants))
	for _, v := range r.Variants {
		if seen[v.Label] {
			return invalid("duplicate variant label %s", v.Label)
		}
		seen[v.Label] = true
		variants = append(variants, models.Variant{Label: v.Label, SplitPercentage: v.SplitPercentage})
	}

	if !distribution.ValidSplit(variants) {
		return invalid("split percentages must sum to 100, got %.2f", distribution.SplitSum(variants))
	}
	return nil
}

// VariantPatch is a partial update of a variant; nil fields are left unchanged
type VariantPatch struct {
	Subject               *string  `json:"subject,omitempty"`
	Content               *string  `json:"content,omitempty"`
	FromName              *string  `json:"from_name,omitempty"`
	SendTimeOffsetMinutes *int     `json:"send_time_offset_minutes,omitempty" validate:"omitempty,gte=0"`
	SplitPercentage       *float64 `json:"split_percentage,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// Empty reports whether the patch changes nothing
func (p VariantPatch) Empty() bool {
	return p.Subject == nil && p.Content == nil && p.FromName == nil &&
		p.SendTimeOffsetMinutes == nil && p.SplitPercentage == nil
}

func (p VariantPatch) apply(v *models.Variant) {
	if p.Subject != nil {
		v.Subject = *p.Subject
	}
	if p.Content != nil {
		v.Content = *p.Content
	}
	if p.FromName != nil {
		v.FromName = *p.FromName
	}
	if p.SendTimeOffsetMinutes != nil {
		v.SendTimeOffsetMinutes = *p.SendTimeOffsetMinutes
	}
	if p.SplitPercentage != nil {
		v.SplitPercentage = *p.SplitPercentage
	}
}

// describeValidation turns validator field errors into one readable line
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "min", "max":
			msgs = append(msgs, fmt.Sprintf("%s must have %s %s items", field, boundWord(fe.Tag()), fe.Param()))
		case "gte", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s", field, boundWord(fe.Tag()), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func boundWord(tag string) string {
	if tag == "min" || tag == "gte" {
		return "at least"
	}
	return "at most"
}
