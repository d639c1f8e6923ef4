package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-reactions/models"
	"github.com/antchfx/xmlquery"
)

// parseXML reads an exported reaction document:
//
//	<reactionSmiles>...</reactionSmiles>
//	<participants>
//	  <molecule><name/><smiles/><role/><inchiKey/><ratio/><notes/></molecule>
//	</participants>
//
// Only the first participants block is read. Documents without one fall
// back to the flat <reaction><reaction_smiles/><component/></reaction> form.
func parseXML(payload string) (*reaction, error) {
	doc, err := xmlquery.Parse(strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	smiles := xmlquery.FindOne(doc, "//reactionSmiles")
	participants := xmlquery.FindOne(doc, "//participants")
	if smiles != nil || participants != nil {
		rx := &reaction{}
		if smiles != nil {
			rx.primary = strings.TrimSpace(smiles.InnerText())
		}
		if participants != nil {
			for _, n := range xmlquery.Find(participants, "molecule") {
				rx.components = append(rx.components, models.Component{
					Name:           childText(n, "name"),
					Representation: childText(n, "smiles"),
					Role:           childText(n, "role"),
					Identifier:     childText(n, "inchiKey"),
					Ratio:          childText(n, "ratio"),
					Notes:          childText(n, "notes"),
				})
			}
		}
		return rx, nil
	}

	root := xmlquery.FindOne(doc, "//reaction")
	if root == nil {
		return nil, fmt.Errorf("%w: no reaction or participants node", ErrMalformedPayload)
	}
	rx := &reaction{
		primary: childText(root, "reaction_smiles", "smiles"),
	}
	for _, n := range xmlquery.Find(root, ".//component") {
		rx.components = append(rx.components, models.Component{
			Name:           childText(n, "name"),
			Representation: childText(n, "smiles", "representation"),
			Role:           childText(n, "role"),
			Identifier:     childText(n, "identifier", "inchiKey"),
			Ratio:          childText(n, "ratio"),
			Notes:          childText(n, "notes"),
		})
	}
	return rx, nil
}

// childText returns the text of the first direct child element matching one
// of names, or "".
func childText(n *xmlquery.Node, names ...string) string {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != xmlquery.ElementNode {
			continue
		}
		for _, name := range names {
			if child.Data == name {
				return strings.TrimSpace(child.InnerText())
			}
		}
	}
	return ""
}
