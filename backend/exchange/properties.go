package exchange

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MAPI property sets
var (
	PropertySetTask   = uuid.MustParse("00062003-0000-0000-C000-000000000046")
	PropertySetCommon = uuid.MustParse("00062008-0000-0000-C000-000000000046")
)

// Distinguished names the server may use instead of the GUID
var distinguishedPropertySets = map[string]uuid.UUID{
	"Task":   PropertySetTask,
	"Common": PropertySetCommon,
}

// PropertyType is the MAPI type of an extended property value
type PropertyType string

const (
	PropertyInteger    PropertyType = "Integer"
	PropertyString     PropertyType = "String"
	PropertyBoolean    PropertyType = "Boolean"
	PropertyDouble     PropertyType = "Double"
	PropertySystemTime PropertyType = "SystemTime"
)

// ExtendedProperty identifies a MAPI property either by tag or by
// property set and id.
type ExtendedProperty struct {
	Name  string
	Tag   int
	SetID uuid.UUID
	ID    int
	Type  PropertyType
}

// Flag status values of PR_FLAG_STATUS
const (
	FlagStatusComplete = 1
	FlagStatusFlagged  = 2
)

// Task status values of PR_TASK_STATUS
const (
	TaskStatusNotStarted = 0
	TaskStatusComplete   = 2
)

const (
	followUpRequest = "Follow up"
	todoSubOrdinal  = "5555555"
)

// https://learn.microsoft.com/en-us/openspecs/exchange_server_protocols/ms-oxprops
var (
	PrFlagStatus        = ExtendedProperty{Name: "PR_FLAG_STATUS", Tag: 0x1090, Type: PropertyInteger}
	PrFlagRequest       = ExtendedProperty{Name: "PR_FLAG_REQUEST", SetID: PropertySetCommon, ID: 0x8018, Type: PropertyString}
	PrTodoOrdinalDate   = ExtendedProperty{Name: "PR_TODO_ORDINAL_DATE", SetID: PropertySetCommon, ID: 0x8021, Type: PropertySystemTime}
	PrTodoSubOrdinal    = ExtendedProperty{Name: "PR_TODO_SUB_ORDINAL", SetID: PropertySetCommon, ID: 0x8022, Type: PropertyString}
	PrTaskComplete      = ExtendedProperty{Name: "PR_TASK_COMPLETE", SetID: PropertySetCommon, ID: 0x8023, Type: PropertyBoolean}
	PrTaskStatus        = ExtendedProperty{Name: "PR_TASK_STATUS", SetID: PropertySetCommon, ID: 0x8024, Type: PropertyInteger}
	PrTodoTitle         = ExtendedProperty{Name: "PR_TODO_TITLE", SetID: PropertySetCommon, ID: 0x8025, Type: PropertyString}
	PrTaskStartDate     = ExtendedProperty{Name: "PR_TASK_START_DATE", SetID: PropertySetCommon, ID: 0x802A, Type: PropertySystemTime}
	PrTaskDueDate       = ExtendedProperty{Name: "PR_TASK_DUE_DATE", SetID: PropertySetTask, ID: 0x8105, Type: PropertySystemTime}
	PrTaskDateCompleted = ExtendedProperty{Name: "PR_TASK_DATE_COMPLETED", SetID: PropertySetCommon, ID: 0x810F, Type: PropertySystemTime}
	PrPercentComplete   = ExtendedProperty{Name: "PR_PERCENT_COMPLETE", SetID: PropertySetCommon, ID: 0x802F, Type: PropertyDouble}
	PrTaskMode          = ExtendedProperty{Name: "PR_TASK_MODE", SetID: PropertySetCommon, ID: 0x8161, Type: PropertyInteger}
	PrAllFolders        = ExtendedProperty{Name: "PR_ALL_FOLDERS", Tag: 0x3601, Type: PropertyInteger}
)

func (p ExtendedProperty) isTagged() bool {
	return p.Tag != 0
}

func (p ExtendedProperty) String() string {
	return p.Name
}

func (p ExtendedProperty) fieldURI() extendedFieldURI {
	if p.isTagged() {
		return extendedFieldURI{
			PropertyTag:  fmt.Sprintf("0x%x", p.Tag),
			PropertyType: string(p.Type),
		}
	}
	return extendedFieldURI{
		PropertySetID: p.SetID.String(),
		PropertyID:    strconv.Itoa(p.ID),
		PropertyType:  string(p.Type),
	}
}

// matches reports whether a returned ExtendedFieldURI refers to p.
// Tags and ids may come back in decimal or hex.
func (p ExtendedProperty) matches(uri extendedFieldURI) bool {
	if p.isTagged() {
		tag, ok := parsePropertyNumber(uri.PropertyTag)
		return ok && tag == p.Tag
	}
	id, ok := parsePropertyNumber(uri.PropertyID)
	if !ok || id != p.ID {
		return false
	}
	if uri.PropertySetID != "" {
		setID, err := uuid.Parse(uri.PropertySetID)
		return err == nil && setID == p.SetID
	}
	if uri.DistinguishedPropertySetID != "" {
		return distinguishedPropertySets[uri.DistinguishedPropertySetID] == p.SetID
	}
	return false
}

func parsePropertyNumber(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

// findProperty returns the raw value of p among the item's properties
func findProperty(props []extendedPropertyValue, p ExtendedProperty) (string, bool) {
	for _, prop := range props {
		if p.matches(prop.ExtendedFieldURI) {
			return prop.Value, true
		}
	}
	return "", false
}

// formatSystemTime renders a time the way EWS expects SystemTime values
func formatSystemTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func parseSystemTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid SystemTime value %q: %w", s, err)
	}
	return t, nil
}

// propertySet selects what GetItem/FindItem return
type propertySet struct {
	baseShape  string
	bodyType   string
	fields     []string
	additional []ExtendedProperty
}

var (
	idOnlyPropertySet = propertySet{baseShape: "IdOnly"}

	// flagged e-mails: first class properties plus flag status and due date
	emailPropertySet = propertySet{
		baseShape:  "AllProperties",
		additional: []ExtendedProperty{PrFlagStatus, PrTaskDueDate},
	}

	calendarPropertySet = propertySet{baseShape: "AllProperties", bodyType: "Text"}

	folderPropertySet = propertySet{baseShape: "IdOnly", fields: []string{"folder:DisplayName"}}
)

func (ps propertySet) shape() shape {
	s := shape{BaseShape: ps.baseShape, BodyType: ps.bodyType}
	if len(ps.fields) == 0 && len(ps.additional) == 0 {
		return s
	}
	add := &additionalProperties{}
	for _, f := range ps.fields {
		add.FieldURIs = append(add.FieldURIs, fieldURI{FieldURI: f})
	}
	for _, p := range ps.additional {
		add.ExtendedFieldURIs = append(add.ExtendedFieldURIs, p.fieldURI())
	}
	s.AdditionalProperties = add
	return s
}
