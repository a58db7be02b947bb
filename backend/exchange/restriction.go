package exchange

import (
	"encoding/xml"
	"strconv"
)

func expr(name string) searchExpression {
	return searchExpression{XMLName: xml.Name{Local: "t:" + name}}
}

func constant(value string) *constantValue {
	c := &constantValue{}
	c.Constant.Value = value
	return c
}

// propertyEquals matches items whose extended property equals value
func propertyEquals(p ExtendedProperty, value int) searchExpression {
	e := expr("IsEqualTo")
	uri := p.fieldURI()
	e.ExtendedFieldURI = &uri
	e.Constant = constant(strconv.Itoa(value))
	return e
}

// fieldEquals matches on a schema field such as folder:DisplayName
func fieldEquals(field, value string) searchExpression {
	e := expr("IsEqualTo")
	e.FieldURI = &fieldURI{FieldURI: field}
	e.Constant = constant(value)
	return e
}

func or(children ...searchExpression) searchExpression {
	e := expr("Or")
	e.Children = children
	return e
}

func and(children ...searchExpression) searchExpression {
	e := expr("And")
	e.Children = children
	return e
}

func restrict(e searchExpression) *restriction {
	return &restriction{Expression: e}
}
