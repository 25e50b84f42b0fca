// Package analysis describes a pet from a photo. It validates the uploaded
// data URL, asks a vision model for a friendly description and extracts the
// structured pet profile the model appends to it.
package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/pettry/internal/observe"
	"github.com/MrWong99/pettry/pkg/fault"
	"github.com/MrWong99/pettry/pkg/provider/vision"
)

const (
	// DefaultMaxImageChars bounds the data URL length.
	DefaultMaxImageChars = 10_000_000

	// DefaultFallback is returned when the model answers with nothing.
	DefaultFallback = "Unable to analyze pet"

	defaultMaxTokens = 400
	profilePrefix    = "PROFILE:"
)

// Prompt is the instruction sent with every photo.
const Prompt = "Analyze this pet image. Identify: 1) Pet type (dog/cat/bird/etc), 2) Breed if recognizable, " +
	"3) Approximate age, 4) Size (small/medium/large), 5) Any special characteristics. Be friendly and conversational." +
	"\n\nAfter your description, add one last line that starts with " + profilePrefix + " followed by a single-line JSON object " +
	`with the keys "type", "breed", "age", "size", "health", "characteristics", "additionalDetails" and "friendlySummary". ` +
	"Use an empty string for anything you cannot tell."

// ErrNotImage is returned for input that is not an image data URL.
var ErrNotImage = errors.New("analysis: not an image data URL")

// PetProfile is what the model could tell about the pet. Every field is
// optional.
type PetProfile struct {
	Type              string `json:"type,omitempty"`
	Breed             string `json:"breed,omitempty"`
	Age               string `json:"age,omitempty"`
	Size              string `json:"size,omitempty"`
	Health            string `json:"health,omitempty"`
	Characteristics   string `json:"characteristics,omitempty"`
	AdditionalDetails string `json:"additionalDetails,omitempty"`
	FriendlySummary   string `json:"friendlySummary,omitempty"`
}

// UnmarshalJSON accepts any JSON value per field: lists are joined with
// commas, numbers and booleans are formatted, null is empty.
func (p *PetProfile) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	fields := map[string]*string{
		"type":              &p.Type,
		"breed":             &p.Breed,
		"age":               &p.Age,
		"size":              &p.Size,
		"health":            &p.Health,
		"characteristics":   &p.Characteristics,
		"additionalDetails": &p.AdditionalDetails,
		"friendlySummary":   &p.FriendlySummary,
	}
	for k, v := range raw {
		if dst, ok := fields[k]; ok {
			*dst = strings.TrimSpace(toText(v))
		}
	}
	return nil
}

func toText(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, e := range v {
			if s := strings.TrimSpace(toText(e)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(v)
	}
}

// Empty reports whether no field is set.
func (p PetProfile) Empty() bool { return p == PetProfile{} }

// Result is the outcome of one analysis.
type Result struct {
	// Analysis is the conversational description shown to the user.
	Analysis string `json:"analysis"`

	// Profile is nil when the model did not return a usable profile.
	Profile *PetProfile `json:"profile,omitempty"`
}

// Config tunes a Service. Zero fields take the defaults.
type Config struct {
	MaxImageChars int
	Fallback      string
	MaxTokens     int
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records analysis latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service analyses pet photos.
type Service struct {
	vision  vision.Provider
	cfg     Config
	metrics *observe.Metrics
}

// New returns a Service over p.
func New(p vision.Provider, cfg Config, opts ...Option) *Service {
	if cfg.MaxImageChars <= 0 {
		cfg.MaxImageChars = DefaultMaxImageChars
	}
	if cfg.Fallback == "" {
		cfg.Fallback = DefaultFallback
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	s := &Service{vision: p, cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Analyze validates imageData, a data:image/...;base64 URL, and describes
// the pet in it. Invalid input is rejected before the vision model is
// called.
func (s *Service) Analyze(ctx context.Context, imageData string) (res Result, err error) {
	mime, img, err := ParseDataURL(imageData, s.cfg.MaxImageChars)
	if err != nil {
		return Result{}, err
	}

	ctx, span := observe.StartSpan(ctx, "analysis.analyze")
	start := time.Now()
	defer func() {
		observe.EndSpan(span, err)
		if s.metrics != nil {
			observe.RecordDuration(ctx, s.metrics.AnalysisDuration, start, err)
		}
	}()

	text, err := s.vision.Analyze(ctx, vision.Request{
		Prompt:    Prompt,
		Image:     img,
		MIMEType:  mime,
		MaxTokens: s.cfg.MaxTokens,
	})
	if err != nil {
		return Result{}, fault.Wrap(fault.Transient, "Failed to analyze image. Please try again.", err)
	}

	analysis, profile := SplitProfile(text)
	if analysis == "" {
		analysis = s.cfg.Fallback
	}
	observe.Logger(ctx).Debug("pet analysed", "mime", mime, "bytes", len(img), "profile", profile != nil)
	return Result{Analysis: analysis, Profile: profile}, nil
}

// ParseDataURL checks that s is a base64 image data URL of at most
// maxChars characters and returns its MIME type and decoded bytes.
func ParseDataURL(s string, maxChars int) (mime string, data []byte, err error) {
	if !strings.HasPrefix(s, "data:image/") {
		return "", nil, fault.Wrap(fault.Validation, "Please upload an image file.", ErrNotImage)
	}
	if maxChars > 0 && len(s) > maxChars {
		return "", nil, fault.New(fault.Validation, "Image is too large. Please upload a smaller photo.")
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return "", nil, fault.Wrap(fault.Validation, "Please upload an image file.", fmt.Errorf("%w: missing payload", ErrNotImage))
	}
	mime, ok = strings.CutSuffix(header, ";base64")
	if !ok || mime == "image/" {
		return "", nil, fault.Wrap(fault.Validation, "Please upload an image file.", fmt.Errorf("%w: not base64 encoded", ErrNotImage))
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fault.Wrap(fault.Validation, "The image could not be read.", err)
	}
	if len(data) == 0 {
		return "", nil, fault.New(fault.Validation, "The image is empty.")
	}
	return mime, data, nil
}

// SplitProfile separates the trailing PROFILE line from the model's reply.
// The returned profile is nil when there is no line, it is not valid JSON
// or every field is empty.
func SplitProfile(reply string) (string, *PetProfile) {
	reply = strings.TrimSpace(reply)
	i := strings.LastIndex(reply, profilePrefix)
	if i < 0 || (i > 0 && reply[i-1] != '\n') {
		return reply, nil
	}
	text := strings.TrimSpace(reply[:i])
	raw := strings.TrimSpace(reply[i+len(profilePrefix):])
	raw = strings.Trim(raw, "`")

	var p PetProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		slog.Debug("analysis: ignoring malformed profile", "err", err)
		return text, nil
	}
	if p.Empty() {
		return text, nil
	}
	return text, &p
}
