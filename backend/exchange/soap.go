package exchange

import (
	"encoding/xml"
	"time"

	"exchangesync/backend"
)

const (
	nsSoap     = "http://schemas.xmlsoap.org/soap/envelope/"
	nsTypes    = "http://schemas.microsoft.com/exchange/services/2006/types"
	nsMessages = "http://schemas.microsoft.com/exchange/services/2006/messages"

	responseClassError   = "Error"
	responseClassWarning = "Warning"

	connectionStatusOK     = "OK"
	connectionStatusClosed = "Closed"
)

// Request side. Element names carry their prefix literally; the namespaces
// are declared once on the envelope.

type requestEnvelope struct {
	XMLName   xml.Name      `xml:"soap:Envelope"`
	XMLNSSoap string        `xml:"xmlns:soap,attr"`
	XMLNST    string        `xml:"xmlns:t,attr"`
	XMLNSM    string        `xml:"xmlns:m,attr"`
	Header    requestHeader `xml:"soap:Header"`
	Body      requestBody   `xml:"soap:Body"`
}

type requestHeader struct {
	RequestServerVersion serverVersion          `xml:"t:RequestServerVersion"`
	Impersonation        *exchangeImpersonation `xml:"t:ExchangeImpersonation,omitempty"`
}

type serverVersion struct {
	Version string `xml:"Version,attr"`
}

type exchangeImpersonation struct {
	ConnectingSID struct {
		PrimarySmtpAddress string `xml:"t:PrimarySmtpAddress"`
	} `xml:"t:ConnectingSID"`
}

// requestBody holds one operation; its element name comes from the
// operation's XMLName.
type requestBody struct {
	Operation interface{}
}

func newRequestEnvelope(version, impersonate string, operation interface{}) requestEnvelope {
	env := requestEnvelope{
		XMLNSSoap: nsSoap,
		XMLNST:    nsTypes,
		XMLNSM:    nsMessages,
		Header:    requestHeader{RequestServerVersion: serverVersion{Version: version}},
		Body:      requestBody{Operation: operation},
	}
	if impersonate != "" {
		imp := &exchangeImpersonation{}
		imp.ConnectingSID.PrimarySmtpAddress = impersonate
		env.Header.Impersonation = imp
	}
	return env
}

type itemID struct {
	ID        string `xml:"Id,attr"`
	ChangeKey string `xml:"ChangeKey,attr,omitempty"`
}

type distinguishedFolderID struct {
	ID string `xml:"Id,attr"`
}

type parentFolderIDs struct {
	FolderID              *itemID                `xml:"t:FolderId,omitempty"`
	DistinguishedFolderID *distinguishedFolderID `xml:"t:DistinguishedFolderId,omitempty"`
}

type fieldURI struct {
	FieldURI string `xml:"FieldURI,attr"`
}

type extendedFieldURI struct {
	DistinguishedPropertySetID string `xml:"DistinguishedPropertySetId,attr,omitempty"`
	PropertySetID              string `xml:"PropertySetId,attr,omitempty"`
	PropertyTag                string `xml:"PropertyTag,attr,omitempty"`
	PropertyID                 string `xml:"PropertyId,attr,omitempty"`
	PropertyType               string `xml:"PropertyType,attr"`
}

type additionalProperties struct {
	FieldURIs         []fieldURI         `xml:"t:FieldURI,omitempty"`
	ExtendedFieldURIs []extendedFieldURI `xml:"t:ExtendedFieldURI,omitempty"`
}

type shape struct {
	BaseShape            string                `xml:"t:BaseShape"`
	BodyType             string                `xml:"t:BodyType,omitempty"`
	AdditionalProperties *additionalProperties `xml:"t:AdditionalProperties,omitempty"`
}

type indexedPageView struct {
	MaxEntriesReturned int    `xml:"MaxEntriesReturned,attr"`
	Offset             int    `xml:"Offset,attr"`
	BasePoint          string `xml:"BasePoint,attr"`
}

type calendarView struct {
	MaxEntriesReturned int    `xml:"MaxEntriesReturned,attr"`
	StartDate          string `xml:"StartDate,attr"`
	EndDate            string `xml:"EndDate,attr"`
}

// searchExpression is one node of a restriction tree. XMLName is set by
// the builders in restriction.go.
type searchExpression struct {
	XMLName          xml.Name
	FieldURI         *fieldURI          `xml:"t:FieldURI,omitempty"`
	ExtendedFieldURI *extendedFieldURI  `xml:"t:ExtendedFieldURI,omitempty"`
	Constant         *constantValue     `xml:"t:FieldURIOrConstant,omitempty"`
	Children         []searchExpression
}

type constantValue struct {
	Constant struct {
		Value string `xml:"Value,attr"`
	} `xml:"t:Constant"`
}

type restriction struct {
	Expression searchExpression
}

type findFolderRequest struct {
	XMLName         xml.Name        `xml:"m:FindFolder"`
	Traversal       string          `xml:"Traversal,attr"`
	FolderShape     shape           `xml:"m:FolderShape"`
	View            indexedPageView `xml:"m:IndexedPageFolderView"`
	Restriction     *restriction    `xml:"m:Restriction,omitempty"`
	ParentFolderIDs parentFolderIDs `xml:"m:ParentFolderIds"`
}

type findItemRequest struct {
	XMLName         xml.Name         `xml:"m:FindItem"`
	Traversal       string           `xml:"Traversal,attr"`
	ItemShape       shape            `xml:"m:ItemShape"`
	IndexedView     *indexedPageView `xml:"m:IndexedPageItemView,omitempty"`
	CalendarView    *calendarView    `xml:"m:CalendarView,omitempty"`
	Restriction     *restriction     `xml:"m:Restriction,omitempty"`
	ParentFolderIDs parentFolderIDs  `xml:"m:ParentFolderIds"`
}

type getItemRequest struct {
	XMLName   xml.Name `xml:"m:GetItem"`
	ItemShape shape    `xml:"m:ItemShape"`
	ItemIDs   struct {
		ItemIDs []itemID `xml:"t:ItemId"`
	} `xml:"m:ItemIds"`
}

type updateItemRequest struct {
	XMLName            xml.Name `xml:"m:UpdateItem"`
	ConflictResolution string   `xml:"ConflictResolution,attr"`
	MessageDisposition string   `xml:"MessageDisposition,attr"`
	ItemChanges        struct {
		ItemChange itemChange `xml:"t:ItemChange"`
	} `xml:"m:ItemChanges"`
}

type itemChange struct {
	ItemID  itemID `xml:"t:ItemId"`
	Updates struct {
		Changes []fieldChange
	} `xml:"t:Updates"`
}

// fieldChange is a t:SetItemField or t:DeleteItemField
type fieldChange struct {
	XMLName          xml.Name
	ExtendedFieldURI extendedFieldURI `xml:"t:ExtendedFieldURI"`
	Message          *changedMessage  `xml:"t:Message,omitempty"`
}

type changedMessage struct {
	ExtendedProperty struct {
		ExtendedFieldURI extendedFieldURI `xml:"t:ExtendedFieldURI"`
		Value            string           `xml:"t:Value"`
	} `xml:"t:ExtendedProperty"`
}

type subscribeRequest struct {
	XMLName   xml.Name `xml:"m:Subscribe"`
	Streaming struct {
		SubscribeToAllFolders bool `xml:"SubscribeToAllFolders,attr"`
		EventTypes            struct {
			EventTypes []string `xml:"t:EventType"`
		} `xml:"t:EventTypes"`
	} `xml:"m:StreamingSubscriptionRequest"`
}

type unsubscribeRequest struct {
	XMLName        xml.Name `xml:"m:Unsubscribe"`
	SubscriptionID string   `xml:"m:SubscriptionId"`
}

type getStreamingEventsRequest struct {
	XMLName         xml.Name `xml:"m:GetStreamingEvents"`
	SubscriptionIDs struct {
		SubscriptionIDs []string `xml:"t:SubscriptionId"`
	} `xml:"m:SubscriptionIds"`
	ConnectionTimeout int `xml:"m:ConnectionTimeout"`
}

// Response side. Only local names are matched so any prefix works.

type responseEnvelope struct {
	XMLName xml.Name     `xml:"Envelope"`
	Body    responseBody `xml:"Body"`
}

type responseBody struct {
	Fault    *soapFault         `xml:"Fault"`
	Response *operationResponse `xml:",any"`
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
	Detail      struct {
		ResponseCode string `xml:"ResponseCode"`
		Message      string `xml:"Message"`
	} `xml:"detail"`
}

type operationResponse struct {
	XMLName          xml.Name
	ResponseMessages struct {
		Messages []responseMessage `xml:",any"`
	} `xml:"ResponseMessages"`
}

type responseMessage struct {
	XMLName       xml.Name
	ResponseClass string `xml:"ResponseClass,attr"`
	MessageText   string `xml:"MessageText"`
	ResponseCode  string `xml:"ResponseCode"`

	RootFolder           *rootFolder    `xml:"RootFolder"`
	Items                itemList       `xml:"Items"`
	SubscriptionID       string         `xml:"SubscriptionId"`
	Notifications        []notification `xml:"Notifications>Notification"`
	ErrorSubscriptionIDs []string       `xml:"ErrorSubscriptionIds>SubscriptionId"`
	ConnectionStatus     string         `xml:"ConnectionStatus"`
}

// err converts an error-class response message into a BackendError
func (m responseMessage) err(operation string) error {
	if m.ResponseClass != responseClassError {
		return nil
	}
	text := m.MessageText
	if text == "" {
		text = m.ResponseCode
	}
	return backend.NewBackendError(operation, 0, text).WithResponseCode(m.ResponseCode)
}

type rootFolder struct {
	TotalItemsInView        int      `xml:"TotalItemsInView,attr"`
	IncludesLastItemInRange bool     `xml:"IncludesLastItemInRange,attr"`
	Items                   itemList `xml:"Items"`
	Folders                 struct {
		Folders []folder `xml:",any"`
	} `xml:"Folders"`
}

type folder struct {
	XMLName     xml.Name
	FolderID    itemID `xml:"FolderId"`
	DisplayName string `xml:"DisplayName"`
}

type itemList struct {
	Messages        []message      `xml:"Message"`
	CalendarItems   []calendarItem `xml:"CalendarItem"`
	MeetingRequests []calendarItem `xml:"MeetingRequest"`
	Items           []genericItem  `xml:"Item"`
}

type genericItem struct {
	ItemID  itemID `xml:"ItemId"`
	Subject string `xml:"Subject"`
}

type extendedPropertyValue struct {
	ExtendedFieldURI extendedFieldURI `xml:"ExtendedFieldURI"`
	Value            string           `xml:"Value"`
}

type message struct {
	ItemID             itemID                  `xml:"ItemId"`
	Subject            string                  `xml:"Subject"`
	LastModifiedTime   time.Time               `xml:"LastModifiedTime"`
	ExtendedProperties []extendedPropertyValue `xml:"ExtendedProperty"`
}

type mailbox struct {
	Name         string `xml:"Name"`
	EmailAddress string `xml:"EmailAddress"`
	RoutingType  string `xml:"RoutingType"`
}

type attendee struct {
	Mailbox mailbox `xml:"Mailbox"`
}

type itemBody struct {
	BodyType string `xml:"BodyType,attr"`
	Content  string `xml:",chardata"`
}

type recurrence struct {
	Daily           *struct{} `xml:"DailyRecurrence"`
	Weekly          *struct{} `xml:"WeeklyRecurrence"`
	AbsoluteMonthly *struct{} `xml:"AbsoluteMonthlyRecurrence"`
	RelativeMonthly *struct{} `xml:"RelativeMonthlyRecurrence"`
	AbsoluteYearly  *struct{} `xml:"AbsoluteYearlyRecurrence"`
	RelativeYearly  *struct{} `xml:"RelativeYearlyRecurrence"`
	Numbered        *struct {
		NumberOfOccurrences int `xml:"NumberOfOccurrences"`
	} `xml:"NumberedRecurrence"`
}

// calendarItem decodes both t:CalendarItem and t:MeetingRequest
type calendarItem struct {
	ItemID                     itemID      `xml:"ItemId"`
	Subject                    string      `xml:"Subject"`
	Body                       itemBody    `xml:"Body"`
	LastModifiedTime           time.Time   `xml:"LastModifiedTime"`
	Start                      time.Time   `xml:"Start"`
	End                        time.Time   `xml:"End"`
	Location                   string      `xml:"Location"`
	ReminderMinutesBeforeStart int         `xml:"ReminderMinutesBeforeStart"`
	Organizer                  *attendee   `xml:"Organizer"`
	RequiredAttendees          []attendee  `xml:"RequiredAttendees>Attendee"`
	OptionalAttendees          []attendee  `xml:"OptionalAttendees>Attendee"`
	Recurrence                 *recurrence `xml:"Recurrence"`
}

type notification struct {
	SubscriptionID string              `xml:"SubscriptionId"`
	Events         []notificationEvent `xml:",any"`
}

type notificationEvent struct {
	XMLName   xml.Name
	TimeStamp string  `xml:"TimeStamp"`
	ItemID    *itemID `xml:"ItemId"`
	FolderID  *itemID `xml:"FolderId"`
}
