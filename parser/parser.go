package parser

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-reactions/config"
	"github.com/aluiziolira/go-scrape-reactions/models"
)

var (
	// ErrMalformedPayload is returned when a payload cannot be parsed.
	ErrMalformedPayload = errors.New("parser: malformed payload")
	// ErrNoComponents is returned when a payload parses but yields no components.
	ErrNoComponents = errors.New("parser: no extractable components")
	// ErrUnknownFormat is returned for formats other than xml and json.
	ErrUnknownFormat = errors.New("parser: unknown payload format")
)

var roleNames = []string{
	"UNSPECIFIED",
	"REACTANT",
	"REAGENT",
	"SOLVENT",
	"CATALYST",
	"WORKUP",
	"INTERNAL_STANDARD",
	"AUTHENTIC_STANDARD",
	"PRODUCT",
	"BYPRODUCT",
	"SIDE_PRODUCT",
}

// RoleName maps a numeric reaction role code to its name.
func RoleName(code int) string {
	if code >= 0 && code < len(roleNames) {
		return roleNames[code]
	}
	return "UNKNOWN_" + strconv.Itoa(code)
}

// reaction is the format-neutral intermediate both decoders produce.
type reaction struct {
	id         string
	primary    string
	components []models.Component
}

// Normalize parses payload in the given format and groups its components by role.
func Normalize(format, payload, origin, sourceURL string) (*models.NormalizedRecord, error) {
	rx, err := decode(format, payload)
	if err != nil {
		return nil, err
	}
	if len(rx.components) == 0 {
		return nil, ErrNoComponents
	}

	return &models.NormalizedRecord{
		Origin:     origin,
		SourceURL:  sourceURL,
		ReactionID: rx.id,
		Primary:    rx.primary,
		Roles:      GroupByRole(rx.components),
	}, nil
}

// ValidatePayload reports whether payload is non-empty and well-formed.
func ValidatePayload(format, payload string) error {
	if strings.TrimSpace(payload) == "" {
		return fmt.Errorf("%w: empty", ErrMalformedPayload)
	}
	_, err := decode(format, payload)
	return err
}

func decode(format, payload string) (*reaction, error) {
	switch format {
	case config.FormatXML:
		return parseXML(payload)
	case config.FormatJSON:
		return parseJSON(payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// GroupByRole groups components by lower-cased role. Display names are the
// non-empty component names joined with " + " in encounter order.
func GroupByRole(components []models.Component) map[string]models.RoleGroup {
	order := make([]string, 0)
	names := make(map[string][]string)
	groups := make(map[string][]models.Component)

	for _, c := range components {
		role := models.NormalizeRole(c.Role)
		c.Role = role
		if _, ok := groups[role]; !ok {
			order = append(order, role)
		}
		groups[role] = append(groups[role], c)
		if name := strings.TrimSpace(c.Name); name != "" {
			names[role] = append(names[role], name)
		}
	}

	out := make(map[string]models.RoleGroup, len(order))
	for _, role := range order {
		out[role] = models.RoleGroup{
			Display:    strings.Join(names[role], " + "),
			Components: groups[role],
		}
	}
	return out
}

// SortedRoles returns the role keys of r in lexical order.
func SortedRoles(r *models.NormalizedRecord) []string {
	roles := make([]string, 0, len(r.Roles))
	for role := range r.Roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// ValidateRecord ensures a record is fit for export.
func ValidateRecord(r *models.NormalizedRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.SourceURL) == "" {
		return fmt.Errorf("record missing source url")
	}
	if len(r.Roles) == 0 {
		return fmt.Errorf("record %s has no roles", r.SourceURL)
	}
	return nil
}
