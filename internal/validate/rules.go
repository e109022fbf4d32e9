package validate

import (
	"math"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"netmaster/internal/apperr"
)

var (
	hostLabelRe  = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)
	dottedQuadRe = regexp.MustCompile(`^(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)$`)

	once sync.Once
	v    *validator.Validate
)

// canonical is the post-parse shape checked by struct tags.
type canonical struct {
	Hostname      string   `json:"hostname" validate:"max=255,hostlabel"`
	IPAddress     string   `json:"ip_address" validate:"max=255,dotted_quad"`
	CPUPercent    float64  `json:"cpu_percent" validate:"gte=0,lte=100"`
	MemoryPercent float64  `json:"memory_percent" validate:"gte=0,lte=100"`
	DiskPercent   float64  `json:"disk_percent" validate:"gte=0,lte=100"`
	Processes     *int     `json:"processes" validate:"omitnil,gte=0,lte=10000"`
	Uptime        *float64 `json:"uptime" validate:"omitnil,gte=0,lte=31536000"`
}

func engine() *validator.Validate {
	once.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("hostlabel", func(fl validator.FieldLevel) bool {
			return hostLabelRe.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("dotted_quad", func(fl validator.FieldLevel) bool {
			return dottedQuadRe.MatchString(fl.Field().String())
		})
	})
	return v
}

func codeForTag(tag string) string {
	switch tag {
	case "gte", "lte":
		return CodeOutOfRange
	case "hostlabel", "dotted_quad", "max":
		return CodeInvalidHost
	default:
		return CodeInvalidType
	}
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte", "lte":
		if fe.Field() == "processes" || fe.Field() == "uptime" {
			return fe.Field() + " is out of range"
		}
		return fe.Field() + " must be between 0 and 100"
	case "hostlabel":
		return "invalid hostname"
	case "dotted_quad":
		return "invalid IPv4 address"
	case "max":
		return fe.Field() + " is too long"
	}
	return fe.Field() + " is invalid"
}

// HostID reports whether s is a usable host identifier (dotted-quad IPv4).
func HostID(s string) error {
	if len(s) > 255 || hasControl(s) || !dottedQuadRe.MatchString(s) {
		return apperr.Validation(CodeInvalidHost, "agent_ip", "invalid host identifier")
	}
	return nil
}

// Percent validates a threshold limit.
func Percent(field string, f float64) error {
	if err := engine().Var(f, "gte=0,lte=100"); err != nil || math.IsNaN(f) {
		return apperr.Validation(CodeOutOfRange, field, field+" must be between 0 and 100")
	}
	return nil
}
