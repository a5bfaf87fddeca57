package transformers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/pkg/ebms"
)

// Namespace of the documents exchanged with business applications
const Namespace = "urn:sirosfoundation:go-msh:1.0"

// DocumentContentType is the content type of deliver and notify documents
const DocumentContentType = "application/xml"

// ErrInvalidSubmission is returned for unreadable submit documents
var ErrInvalidSubmission = errors.New("invalid submit message")

// ParseSubmitMessage reads a SubmitMessage document:
//
//	<SubmitMessage xmlns="urn:sirosfoundation:go-msh:1.0" mpc="...">
//	  <MessageInfo><MessageId/><RefToMessageId/></MessageInfo>
//	  <PartyInfo><From><PartyId type="..."/><Role/></From><To>...</To></PartyInfo>
//	  <CollaborationInfo>
//	    <AgreementRef pmode="...">...</AgreementRef>
//	    <Service type="...">...</Service><Action/><ConversationId/>
//	  </CollaborationInfo>
//	  <MessageProperties><Property name="..." type="...">...</Property></MessageProperties>
//	  <Payloads>
//	    <Payload id="..." mimeType="..." location="file:///...">
//	      <Property name="...">...</Property>
//	    </Payload>
//	  </Payloads>
//	</SubmitMessage>
func ParseSubmitMessage(r io.Reader) (*msh.SubmitMessage, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "SubmitMessage" {
		return nil, fmt.Errorf("%w: root element must be SubmitMessage", ErrInvalidSubmission)
	}

	sm := &msh.SubmitMessage{MPC: root.SelectAttrValue("mpc", "")}
	if mi := root.SelectElement("MessageInfo"); mi != nil {
		sm.MessageID = text(mi, "MessageId")
		sm.RefToMessageID = text(mi, "RefToMessageId")
	}
	if pi := root.SelectElement("PartyInfo"); pi != nil {
		sm.From = parseParty(pi.SelectElement("From"))
		sm.To = parseParty(pi.SelectElement("To"))
	}
	if ci := root.SelectElement("CollaborationInfo"); ci != nil {
		if ar := ci.SelectElement("AgreementRef"); ar != nil {
			sm.AgreementRef = strings.TrimSpace(ar.Text())
			sm.PModeID = ar.SelectAttrValue("pmode", "")
		}
		if svc := ci.SelectElement("Service"); svc != nil {
			sm.Service = strings.TrimSpace(svc.Text())
			sm.ServiceType = svc.SelectAttrValue("type", "")
		}
		sm.Action = text(ci, "Action")
		sm.ConversationID = text(ci, "ConversationId")
	}
	if mp := root.SelectElement("MessageProperties"); mp != nil {
		sm.MessageProperties = parseProperties(mp)
	}
	if pls := root.SelectElement("Payloads"); pls != nil {
		for _, p := range pls.SelectElements("Payload") {
			payload := msh.Payload{
				ID:          p.SelectAttrValue("id", ""),
				ContentType: p.SelectAttrValue("mimeType", ""),
				Location:    p.SelectAttrValue("location", ""),
			}
			if payload.Location == "" {
				return nil, fmt.Errorf("%w: payload without location", ErrInvalidSubmission)
			}
			if props := parseProperties(p); len(props) > 0 {
				payload.Properties = make(map[string]string, len(props))
				for _, prop := range props {
					payload.Properties[prop.Name] = prop.Value
				}
			}
			sm.Payloads = append(sm.Payloads, payload)
		}
	}
	if sm.PModeID == "" {
		return nil, fmt.Errorf("%w: AgreementRef/@pmode is required", ErrInvalidSubmission)
	}
	return sm, nil
}

func text(parent *etree.Element, tag string) string {
	if e := parent.SelectElement(tag); e != nil {
		return strings.TrimSpace(e.Text())
	}
	return ""
}

func parseParty(e *etree.Element) *ebms.Party {
	if e == nil {
		return nil
	}
	p := &ebms.Party{Role: text(e, "Role")}
	for _, id := range e.SelectElements("PartyId") {
		p.PartyId = append(p.PartyId, ebms.PartyId{
			Type:  id.SelectAttrValue("type", ""),
			Value: strings.TrimSpace(id.Text()),
		})
	}
	return p
}

func parseProperties(e *etree.Element) []ebms.Property {
	var props []ebms.Property
	for _, p := range e.SelectElements("Property") {
		props = append(props, ebms.Property{
			Name:  p.SelectAttrValue("name", ""),
			Type:  p.SelectAttrValue("type", ""),
			Value: strings.TrimSpace(p.Text()),
		})
	}
	return props
}

func newDocument(rootTag string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(rootTag)
	root.CreateAttr("xmlns", Namespace)
	return doc, root
}

func writeMessageInfo(parent *etree.Element, id, ref string, ts time.Time) {
	mi := parent.CreateElement("MessageInfo")
	mi.CreateElement("MessageId").SetText(id)
	if ref != "" {
		mi.CreateElement("RefToMessageId").SetText(ref)
	}
	if !ts.IsZero() {
		mi.CreateElement("Timestamp").SetText(ts.UTC().Format(time.RFC3339Nano))
	}
}

func writeParty(parent *etree.Element, tag string, p *ebms.Party) {
	if p.IsEmpty() {
		return
	}
	e := parent.CreateElement(tag)
	for _, id := range p.PartyId {
		pid := e.CreateElement("PartyId")
		if id.Type != "" {
			pid.CreateAttr("type", id.Type)
		}
		pid.SetText(id.Value)
	}
	if p.Role != "" {
		e.CreateElement("Role").SetText(p.Role)
	}
}

func writeProperties(parent *etree.Element, props []ebms.Property) {
	for _, p := range props {
		e := parent.CreateElement("Property")
		e.CreateAttr("name", p.Name)
		if p.Type != "" {
			e.CreateAttr("type", p.Type)
		}
		e.SetText(p.Value)
	}
}

// BuildDeliverMessage renders a received user message and its payloads as
// a DeliverMessage document. Payload content is embedded base64 encoded.
func BuildDeliverMessage(msg *ebms.AS4Message) ([]byte, error) {
	um := msg.FirstUserMessage()
	if um == nil {
		return nil, errors.New("no user message to deliver")
	}

	doc, root := newDocument("DeliverMessage")
	if um.MPC != "" {
		root.CreateAttr("mpc", um.MPC)
	}
	writeMessageInfo(root, um.MessageID(), um.RefToMessageID(), um.Timestamp())

	pi := root.CreateElement("PartyInfo")
	writeParty(pi, "From", um.Sender())
	writeParty(pi, "To", um.Receiver())

	if ci := um.CollaborationInfo; ci != nil {
		c := root.CreateElement("CollaborationInfo")
		if ar := ci.AgreementRef; ar != nil {
			e := c.CreateElement("AgreementRef")
			if ar.Type != "" {
				e.CreateAttr("type", ar.Type)
			}
			if ar.Pmode != "" {
				e.CreateAttr("pmode", ar.Pmode)
			}
			e.SetText(ar.Value)
		}
		svc := c.CreateElement("Service")
		if ci.Service.Type != "" {
			svc.CreateAttr("type", ci.Service.Type)
		}
		svc.SetText(ci.Service.Value)
		c.CreateElement("Action").SetText(ci.Action)
		c.CreateElement("ConversationId").SetText(ci.ConversationId)
	}

	if mp := um.MessageProperties; mp != nil && len(mp.Property) > 0 {
		writeProperties(root.CreateElement("MessageProperties"), mp.Property)
	}

	if len(msg.Attachments) > 0 {
		pls := root.CreateElement("Payloads")
		for _, a := range msg.Attachments {
			data, err := a.Bytes()
			if err != nil {
				return nil, err
			}
			p := pls.CreateElement("Payload")
			p.CreateAttr("id", a.ID)
			p.CreateAttr("mimeType", a.ContentType)
			writeProperties(p, sortedProperties(a.Properties))
			p.CreateElement("Content").SetText(base64.StdEncoding.EncodeToString(data))
		}
	}

	doc.Indent(2)
	return doc.WriteToBytes()
}

// Notification statuses
const (
	StatusReceipt   = "Receipt"
	StatusError     = "Error"
	StatusException = "Exception"
)

// NotifyDetail is one line of a notification
type NotifyDetail struct {
	Code        string
	Severity    string
	Description string
}

// BuildNotifyMessage renders a NotifyMessage document about the message refToMessageID
func BuildNotifyMessage(messageID, refToMessageID, status string, ts time.Time, details []NotifyDetail) ([]byte, error) {
	doc, root := newDocument("NotifyMessage")
	writeMessageInfo(root, messageID, refToMessageID, ts)

	si := root.CreateElement("StatusInfo")
	si.CreateAttr("status", status)
	for _, d := range details {
		e := si.CreateElement("Detail")
		if d.Code != "" {
			e.CreateAttr("code", d.Code)
		}
		if d.Severity != "" {
			e.CreateAttr("severity", d.Severity)
		}
		e.SetText(d.Description)
	}

	doc.Indent(2)
	return doc.WriteToBytes()
}

func sortedProperties(m map[string]string) []ebms.Property {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	props := make([]ebms.Property, 0, len(names))
	for _, name := range names {
		props = append(props, ebms.Property{Name: name, Value: m[name]})
	}
	return props
}
