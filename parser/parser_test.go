package parser

import (
	"encoding/json"
	"testing"

	"github.com/aluiziolira/go-scrape-reactions/config"
	"github.com/aluiziolira/go-scrape-reactions/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const crdXML = `<?xml version="1.0" encoding="UTF-8"?>
<reactionData>
  <reaction>
    <reactionSmiles>CCO.CC(=O)O>>CCOC(C)=O</reactionSmiles>
    <participants>
      <molecule>
        <name>X</name><smiles>CCO</smiles><role>Reactant</role><inchiKey>LFQSCWFLJHTTHZ-UHFFFAOYSA-N</inchiKey><ratio>1.0</ratio>
      </molecule>
      <molecule>
        <name>Y</name><smiles>CC(=O)O</smiles><role>REACTANT</role>
      </molecule>
      <molecule>
        <name>Z</name><smiles>CCOC(C)=O</smiles><role>product</role><notes>isolated</notes>
      </molecule>
    </participants>
    <participants>
      <molecule><name>W</name><role>solvent</role></molecule>
    </participants>
  </reaction>
</reactionData>`

const flatXML = `<reaction_exchange>
  <reaction>
    <reaction_smiles>C>>CC</reaction_smiles>
    <component><name>methane</name><role>reactant</role><identifier>74-82-8</identifier></component>
  </reaction>
</reaction_exchange>`

const ordJSON = `{
  "reactionId": "ord-3f6e1b2a9c",
  "identifiersList": [
    {"type": 6, "value": "BrC1=CC=CC=C1.OB(O)C1=CC=CC=C1>>C1=CC=C(C=C1)C1=CC=CC=C1"}
  ],
  "inputsMap": [
    ["m2 boronic acid", {"componentsList": [
      {"identifiersList": [{"type": 6, "value": "phenylboronic acid"}, {"type": 2, "value": "OB(O)C1=CC=CC=C1"}],
       "reactionRole": 1, "amount": {"moles": {"value": 1.2, "units": "MILLIMOLE"}}}
    ]}],
    ["m1 halide", {"componentsList": [
      {"identifiersList": [{"type": 6, "value": "bromobenzene"}, {"type": 11, "value": "QARVLSVVCXYDNA-UHFFFAOYSA-N"}],
       "reactionRole": 1},
      {"identifiersList": [{"type": 6, "value": "toluene"}], "reactionRole": 3},
      {"identifiersList": [{"type": 6, "value": "mystery"}], "reactionRole": 42},
      {"identifiersList": "not-a-list", "reactionRole": 4}
    ]}]
  ],
  "outcomesList": [
    {"productsList": [
      {"identifiersList": [{"type": 6, "value": "biphenyl"}, {"type": 2, "value": "C1=CC=C(C=C1)C1=CC=CC=C1"}],
       "isDesiredProduct": true, "reactionRole": 8},
      {"identifiersList": [{"type": 2, "value": "c1ccccc1"}], "reactionRole": 9}
    ]}
  ]
}`

const messageJSON = `{
  "reaction": {
    "identifiers": [
      {"type": "REACTION_CXSMILES", "value": "BrC1=CC=CC=C1>>C1=CC=CC=C1"}
    ],
    "inputs": {
      "m2 boronic acid": {"components": [
        {"identifiers": [{"type": "NAME", "value": "phenylboronic acid"}], "reactionRole": 1}
      ]},
      "m1 halide": {"components": [
        {"identifiers": [{"type": "NAME", "value": "bromobenzene"}, {"type": "CAS_NUMBER", "value": "108-86-1"}],
         "reactionRole": "REACTANT"}
      ]}
    },
    "outcomes": [
      {"products": [{"identifiers": [{"type": "NAME", "value": "benzene"}], "is_desired_product": true}]}
    ]
  }
}`

func TestNormalizeXMLGroupsRoles(t *testing.T) {
	rec, err := Normalize(config.FormatXML, crdXML, "0_http://example.test/data/1", "http://example.test/reaction/1")
	require.NoError(t, err)

	assert.Equal(t, "0_http://example.test/data/1", rec.Origin)
	assert.Equal(t, "http://example.test/reaction/1", rec.SourceURL)
	assert.Equal(t, "CCO.CC(=O)O>>CCOC(C)=O", rec.Primary)
	assert.Equal(t, map[string]string{"reactant": "X + Y", "product": "Z"}, rec.Displays())

	reactants := rec.Roles["reactant"].Components
	require.Len(t, reactants, 2)
	assert.Equal(t, "LFQSCWFLJHTTHZ-UHFFFAOYSA-N", reactants[0].Identifier)
	assert.Equal(t, "CCO", reactants[0].Representation)
	assert.Equal(t, "1.0", reactants[0].Ratio)
	assert.Equal(t, "reactant", reactants[1].Role)
	assert.Equal(t, "isolated", rec.Roles["product"].Components[0].Notes)
}

func TestNormalizeXMLFlatFallback(t *testing.T) {
	rec, err := Normalize(config.FormatXML, flatXML, "o", "u")
	require.NoError(t, err)
	assert.Equal(t, "C>>CC", rec.Primary)
	assert.Equal(t, "74-82-8", rec.Roles["reactant"].Components[0].Identifier)
}

func TestNormalizeJSONRoleCodes(t *testing.T) {
	rec, err := Normalize(config.FormatJSON, ordJSON, "ord_dataset-1", "http://example.test/id/ord-3f6e1b2a9c")
	require.NoError(t, err)

	assert.Equal(t, "ord-3f6e1b2a9c", rec.ReactionID)
	assert.Equal(t, "BrC1=CC=CC=C1.OB(O)C1=CC=CC=C1>>C1=CC=C(C=C1)C1=CC=CC=C1", rec.Primary)
	assert.Equal(t, map[string]string{
		"reactant":   "phenylboronic acid + bromobenzene",
		"solvent":    "toluene",
		"unknown_42": "mystery",
		"catalyst":   "",
		"product":    "biphenyl",
		"byproduct":  "",
	}, rec.Displays())

	reactants := rec.Roles["reactant"].Components
	require.Len(t, reactants, 2)
	assert.Equal(t, "m2 boronic acid", reactants[0].Group)
	assert.Equal(t, "OB(O)C1=CC=CC=C1", reactants[0].Representation)
	assert.Equal(t, "1.2 MILLIMOLE", reactants[0].Ratio)
	assert.Equal(t, "QARVLSVVCXYDNA-UHFFFAOYSA-N", reactants[1].Identifier)

	catalyst := rec.Roles["catalyst"].Components
	require.Len(t, catalyst, 1)
	assert.Equal(t, "", catalyst[0].Name)

	product := rec.Roles["product"].Components[0]
	assert.Equal(t, "outcome", product.Group)
	assert.True(t, product.Desired)
	byproduct := rec.Roles["byproduct"].Components[0]
	assert.False(t, byproduct.Desired)
	assert.Equal(t, "c1ccccc1", byproduct.Representation)
}

func TestNormalizeJSONMessageForm(t *testing.T) {
	rec, err := Normalize(config.FormatJSON, messageJSON, "o", "u")
	require.NoError(t, err)

	assert.Equal(t, "BrC1=CC=CC=C1>>C1=CC=CC=C1", rec.Primary)
	assert.Equal(t, "", rec.ReactionID)
	assert.Equal(t, "phenylboronic acid + bromobenzene", rec.Roles["reactant"].Display)
	assert.Equal(t, "108-86-1", rec.Roles["reactant"].Components[1].Identifier)
	assert.True(t, rec.Roles["product"].Components[0].Desired)
}

func TestNormalizeJSONKeepsDeclaredInputOrder(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{
			name: "inputs map pairs",
			payload: `{"inputsMap": [
				["z-first", {"componentsList": [{"identifiersList": [{"type": 6, "value": "A"}], "reactionRole": 1}]}],
				["a-second", {"componentsList": [{"identifiersList": [{"type": 6, "value": "B"}], "reactionRole": 1}]}]
			]}`,
		},
		{
			name: "inputs object",
			payload: `{"inputs": {
				"z-first": {"components": [{"identifiers": [{"type": "NAME", "value": "A"}], "reactionRole": 1}]},
				"a-second": {"components": [{"identifiers": [{"type": "NAME", "value": "B"}], "reactionRole": 1}]}
			}}`,
		},
		{
			name: "wrapped inputs object",
			payload: `{"reaction": {"inputs": {
				"z-first": {"components": [{"identifiers": [{"type": "NAME", "value": "A"}], "reactionRole": 1}]},
				"a-second": {"components": [{"identifiers": [{"type": "NAME", "value": "B"}], "reactionRole": 1}]}
			}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Normalize(config.FormatJSON, tt.payload, "o", "u")
			require.NoError(t, err)
			assert.Equal(t, "A + B", rec.Roles["reactant"].Display)
			assert.Equal(t, "z-first", rec.Roles["reactant"].Components[0].Group)
		})
	}
}

func TestNormalizeJSONUnwrappedAndStringRoles(t *testing.T) {
	payload := `{inputs: {a: {components: [{identifiers: [{type: "NAME", value: "water"}], reactionRole: "SOLVENT"}]}}}`
	rec, err := Normalize(config.FormatJSON, payload, "o", "u")
	require.NoError(t, err)
	assert.Equal(t, "water", rec.Roles["solvent"].Display)
	assert.Equal(t, "", rec.Primary)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for _, tc := range []struct {
		format  string
		payload string
	}{
		{config.FormatXML, crdXML},
		{config.FormatJSON, ordJSON},
		{config.FormatJSON, messageJSON},
	} {
		first, err := Normalize(tc.format, tc.payload, "o", "u")
		require.NoError(t, err)
		second, err := Normalize(tc.format, tc.payload, "o", "u")
		require.NoError(t, err)

		a, err := json.Marshal(first)
		require.NoError(t, err)
		b, err := json.Marshal(second)
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b), tc.format)
	}
}

func TestNormalizeFailures(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		payload string
		want    error
	}{
		{name: "xml without reaction", format: config.FormatXML, payload: "<other/>", want: ErrMalformedPayload},
		{name: "xml broken", format: config.FormatXML, payload: "<reaction><component></reaction>", want: ErrMalformedPayload},
		{name: "xml no components", format: config.FormatXML, payload: "<reaction><reaction_smiles>C>>C</reaction_smiles></reaction>", want: ErrNoComponents},
		{name: "xml empty participants", format: config.FormatXML, payload: "<r><reactionSmiles>C>>C</reactionSmiles><participants/></r>", want: ErrNoComponents},
		{name: "json broken", format: config.FormatJSON, payload: `{"inputs": `, want: ErrMalformedPayload},
		{name: "json array", format: config.FormatJSON, payload: `[1, 2]`, want: ErrMalformedPayload},
		{name: "json no components", format: config.FormatJSON, payload: `{"inputs": {}, "outcomes": []}`, want: ErrNoComponents},
		{name: "json empty page form", format: config.FormatJSON, payload: `{"reactionId": "ord-1", "inputsMap": [], "outcomesList": []}`, want: ErrNoComponents},
		{name: "unknown format", format: "yaml", payload: "a: b", want: ErrUnknownFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Normalize(tt.format, tt.payload, "o", "u")
			assert.Nil(t, rec)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidatePayload(t *testing.T) {
	assert.NoError(t, ValidatePayload(config.FormatXML, crdXML))
	assert.NoError(t, ValidatePayload(config.FormatJSON, ordJSON))
	assert.ErrorIs(t, ValidatePayload(config.FormatJSON, "   "), ErrMalformedPayload)
	assert.ErrorIs(t, ValidatePayload(config.FormatXML, "plain text"), ErrMalformedPayload)
}

func TestRoleName(t *testing.T) {
	tests := map[int]string{
		0:  "UNSPECIFIED",
		1:  "REACTANT",
		3:  "SOLVENT",
		8:  "PRODUCT",
		10: "SIDE_PRODUCT",
		11: "UNKNOWN_11",
		-1: "UNKNOWN_-1",
	}
	for code, want := range tests {
		assert.Equal(t, want, RoleName(code))
	}
}

func TestGroupByRoleSkipsEmptyNames(t *testing.T) {
	groups := GroupByRole([]models.Component{
		{Name: "X", Role: "reactant"},
		{Name: "", Role: " Reactant "},
		{Name: "Y", Role: "REACTANT"},
	})
	require.Len(t, groups, 1)
	assert.Equal(t, "X + Y", groups["reactant"].Display)
	assert.Len(t, groups["reactant"].Components, 3)
}

func TestValidateRecord(t *testing.T) {
	assert.Error(t, ValidateRecord(nil))
	assert.Error(t, ValidateRecord(&models.NormalizedRecord{Roles: map[string]models.RoleGroup{"a": {}}}))
	assert.Error(t, ValidateRecord(&models.NormalizedRecord{SourceURL: "u"}))
	assert.NoError(t, ValidateRecord(&models.NormalizedRecord{SourceURL: "u", Roles: map[string]models.RoleGroup{"a": {}}}))
}
