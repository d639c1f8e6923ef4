package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-reactions/models"
	"github.com/titanous/json5"
)

// Reaction-level identifier codes.
const (
	reactionSMILES   = 2
	reactionCXSMILES = 6
)

// Compound identifier codes.
const (
	compoundSMILES   = 2
	compoundIUPAC    = 5
	compoundName     = 6
	compoundCXSMILES = 10
)

var reactionIdentifierCodes = map[string]int{
	"REACTION_SMILES":   reactionSMILES,
	"REACTION_CXSMILES": reactionCXSMILES,
}

var compoundIdentifierCodes = map[string]int{
	"CUSTOM":        1,
	"SMILES":        compoundSMILES,
	"INCHI":         3,
	"MOLBLOCK":      4,
	"IUPAC_NAME":    compoundIUPAC,
	"NAME":          compoundName,
	"CAS_NUMBER":    7,
	"PUBCHEM_CID":   8,
	"CHEMSPIDER_ID": 9,
	"CXSMILES":      compoundCXSMILES,
	"INCHI_KEY":     11,
}

// parseJSON reads a reaction object, optionally wrapped as {"reaction": {...}}.
//
// The database page embeds the protobuf JSON form: "identifiersList",
// "inputsMap" as an ordered list of [label, input] pairs with
// "componentsList", and "outcomesList" with "productsList". The plain
// message form ("identifiers", an "inputs" object, "outcomes" with
// "products") is read when those keys are absent. Sub-fields of the wrong
// shape are treated as absent.
func parseJSON(payload string) (*reaction, error) {
	var raw any
	if err := json5.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	top, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level is not an object", ErrMalformedPayload)
	}
	wrapped := false
	if inner, ok := top["reaction"].(map[string]any); ok {
		top = inner
		wrapped = true
	}

	rx := &reaction{
		id:      asString(firstOf(top, "reactionId", "reaction_id")),
		primary: reactionPrimary(asSlice(firstOf(top, "identifiersList", "identifiers"))),
	}

	if entries, ok := top["inputsMap"].([]any); ok {
		for _, entry := range entries {
			pair := asSlice(entry)
			if len(pair) < 2 {
				continue
			}
			rx.addInputs(asString(pair[0]), asMap(pair[1]))
		}
	} else if inputs := asMap(top["inputs"]); len(inputs) > 0 {
		for _, label := range inputLabels(payload, wrapped, inputs) {
			rx.addInputs(label, asMap(inputs[label]))
		}
	}

	for _, outcome := range asSlice(firstOf(top, "outcomesList", "outcomes")) {
		for _, p := range asSlice(firstOf(asMap(outcome), "productsList", "products")) {
			rx.components = append(rx.components, jsonComponent(asMap(p), "outcome", "PRODUCT"))
		}
	}
	return rx, nil
}

func (rx *reaction) addInputs(label string, input map[string]any) {
	for _, c := range asSlice(firstOf(input, "componentsList", "components")) {
		rx.components = append(rx.components, jsonComponent(asMap(c), label, "UNSPECIFIED"))
	}
}

func reactionPrimary(identifiers []any) string {
	for _, id := range identifiers {
		m := asMap(id)
		switch identifierCode(m["type"], reactionIdentifierCodes) {
		case reactionSMILES, reactionCXSMILES:
			return asString(m["value"])
		}
	}
	return ""
}

func jsonComponent(m map[string]any, group, defaultRole string) models.Component {
	c := models.Component{
		Group: group,
		Role:  jsonRole(m, defaultRole),
		Ratio: jsonAmount(asMap(m["amount"])),
		Notes: asString(m["notes"]),
	}
	if desired, ok := firstOf(m, "isDesiredProduct", "is_desired_product").(bool); ok {
		c.Desired = desired
	}
	for _, id := range asSlice(firstOf(m, "identifiersList", "identifiers")) {
		idm := asMap(id)
		value := asString(idm["value"])
		if value == "" {
			continue
		}
		switch identifierCode(idm["type"], compoundIdentifierCodes) {
		case compoundName, compoundIUPAC:
			if c.Name == "" {
				c.Name = value
			}
		case compoundSMILES, compoundCXSMILES:
			if c.Representation == "" {
				c.Representation = value
			}
		default:
			if c.Identifier == "" {
				c.Identifier = value
			}
		}
	}
	return c
}

// identifierCode reads a numeric type code or its enum name; 0 means unknown.
func identifierCode(v any, names map[string]int) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		s := strings.TrimSpace(t)
		if code, err := strconv.Atoi(s); err == nil {
			return code
		}
		return names[strings.ToUpper(s)]
	}
	return 0
}

func jsonRole(m map[string]any, fallback string) string {
	v := firstOf(m, "reactionRole", "reaction_role")
	if v == nil {
		return fallback
	}
	switch role := v.(type) {
	case float64:
		return RoleName(int(role))
	case string:
		if code, err := strconv.Atoi(strings.TrimSpace(role)); err == nil {
			return RoleName(code)
		}
		if strings.TrimSpace(role) == "" {
			return fallback
		}
		return role
	default:
		return fallback
	}
}

// jsonAmount renders the first of moles, mass or volume as "value units".
func jsonAmount(amount map[string]any) string {
	for _, key := range []string{"moles", "mass", "volume"} {
		q := asMap(amount[key])
		if len(q) == 0 {
			continue
		}
		value := asString(q["value"])
		units := asString(q["units"])
		return strings.TrimSpace(value + " " + units)
	}
	return ""
}

// inputLabels returns the keys of the "inputs" object in the order the
// payload declares them. Payloads using JSON5-only syntax fall back to
// lexical order.
func inputLabels(payload string, wrapped bool, inputs map[string]any) []string {
	var doc struct {
		Inputs   json5.RawMessage `json:"inputs"`
		Reaction struct {
			Inputs json5.RawMessage `json:"inputs"`
		} `json:"reaction"`
	}
	var keys []string
	if err := json5.Unmarshal([]byte(payload), &doc); err == nil {
		raw := doc.Inputs
		if wrapped {
			raw = doc.Reaction.Inputs
		}
		keys = objectKeys(raw)
	}
	if len(keys) == len(inputs) {
		return keys
	}

	keys = make([]string, 0, len(inputs))
	for label := range inputs {
		keys = append(keys, label)
	}
	sort.Strings(keys)
	return keys
}

// objectKeys lists the top-level keys of a strict JSON object in order, or
// nil when raw is not one.
func objectKeys(raw []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	seen := make(map[string]bool)
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := tok.(string)
		if !ok {
			return nil
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

// firstOf returns the value of the first key present in m.
func firstOf(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
