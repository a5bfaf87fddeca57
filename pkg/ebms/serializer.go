package ebms

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
)

const (
	// ContentTypeMultipartRelated is the MIME type for multipart/related
	ContentTypeMultipartRelated = "multipart/related"
	// ContentTypeSOAPXML is the MIME type for SOAP 1.2
	ContentTypeSOAPXML = "application/soap+xml"
)

var (
	// ErrUnsupportedContentType is returned for transport content types that
	// carry neither a SOAP envelope nor a multipart/related package.
	ErrUnsupportedContentType = errors.New("unsupported content type")
	// ErrEnvelopeNotFound is returned when no SOAP envelope could be located
	ErrEnvelopeNotFound = errors.New("SOAP envelope not found in message")
	// ErrMissingMessagingHeader is returned for envelopes without an ebMS header
	ErrMissingMessagingHeader = errors.New("envelope has no ebMS Messaging header")
)

// Serializer writes and reads AS4 messages on the wire
type Serializer interface {
	Serialize(msg *AS4Message, w io.Writer) (string, error)
	Deserialize(r io.Reader, contentType string) (*AS4Message, error)
}

// MIMESerializer writes a bare SOAP envelope for messages without
// attachments and a multipart/related package otherwise.
type MIMESerializer struct{}

// Serialize writes msg to w and returns the transport content type
func (MIMESerializer) Serialize(msg *AS4Message, w io.Writer) (string, error) {
	if msg.IsEmpty() {
		return "", ErrEmptyMessage
	}

	envelope := &Envelope{
		Header: &Header{Messaging: &Messaging{
			UserMessage:   msg.UserMessages,
			SignalMessage: msg.SignalMessages,
		}},
		Body: &Body{},
	}
	envelopeData, err := xml.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	envelopeData = append([]byte(xml.Header), envelopeData...)

	if len(msg.Attachments) == 0 {
		if _, err := w.Write(envelopeData); err != nil {
			return "", fmt.Errorf("failed to write envelope: %w", err)
		}
		return ContentTypeSOAPXML + "; charset=UTF-8", nil
	}

	writer := multipart.NewWriter(w)
	boundary := generateBoundary()
	if err := writer.SetBoundary(boundary); err != nil {
		return "", fmt.Errorf("failed to set boundary: %w", err)
	}

	startID := uuid.New().String() + "@go-msh"
	soapHeader := textproto.MIMEHeader{}
	soapHeader.Set("Content-Type", ContentTypeSOAPXML+"; charset=UTF-8")
	soapHeader.Set("Content-Transfer-Encoding", "8bit")
	soapHeader.Set("Content-ID", "<"+startID+">")

	soapPart, err := writer.CreatePart(soapHeader)
	if err != nil {
		return "", fmt.Errorf("failed to create SOAP part: %w", err)
	}
	if _, err := soapPart.Write(envelopeData); err != nil {
		return "", fmt.Errorf("failed to write SOAP part: %w", err)
	}

	for _, a := range msg.Attachments {
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		partHeader := textproto.MIMEHeader{}
		partHeader.Set("Content-Type", contentType)
		partHeader.Set("Content-Transfer-Encoding", "binary")
		partHeader.Set("Content-ID", "<"+a.ID+">")

		part, err := writer.CreatePart(partHeader)
		if err != nil {
			return "", fmt.Errorf("failed to create payload part: %w", err)
		}
		data, err := a.Bytes()
		if err != nil {
			return "", err
		}
		if _, err := part.Write(data); err != nil {
			return "", fmt.Errorf("failed to write payload part: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return mime.FormatMediaType(ContentTypeMultipartRelated, map[string]string{
		"boundary": boundary,
		"type":     ContentTypeSOAPXML,
		"start":    "<" + startID + ">",
	}), nil
}

// Deserialize reads a message in either wire form. Attachment part
// properties are taken from the matching PartInfo of the first user message.
func (MIMESerializer) Deserialize(r io.Reader, contentType string) (*AS4Message, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to parse content type: %w", err)
	}

	switch {
	case mediaType == ContentTypeMultipartRelated:
		msg, err := parseMultipart(r, params)
		if err != nil {
			return nil, err
		}
		msg.ContentType = contentType
		return msg, nil
	case mediaType == ContentTypeSOAPXML || strings.HasSuffix(mediaType, "/xml"):
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read envelope: %w", err)
		}
		msg, err := parseEnvelope(data)
		if err != nil {
			return nil, err
		}
		msg.ContentType = contentType
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, mediaType)
	}
}

func parseMultipart(r io.Reader, params map[string]string) (*AS4Message, error) {
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("boundary not found in content type")
	}
	startID := normalizeContentID(params["start"])

	var (
		msg   *AS4Message
		parts []*Attachment
	)
	reader := multipart.NewReader(r, boundary)
	for first := true; ; first = false {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read part: %w", err)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("failed to read part data: %w", err)
		}

		contentID := normalizeContentID(part.Header.Get("Content-ID"))
		isEnvelope := msg == nil && ((startID == "" && first) || (startID != "" && contentID == startID))
		if isEnvelope {
			if msg, err = parseEnvelope(data); err != nil {
				return nil, err
			}
			continue
		}

		partType := part.Header.Get("Content-Type")
		if mt, _, err := mime.ParseMediaType(partType); err == nil {
			partType = mt
		}
		parts = append(parts, NewAttachment(contentID, partType, bytes.NewReader(data)))
	}

	if msg == nil {
		return nil, ErrEnvelopeNotFound
	}

	var infos []PartInfo
	if um := msg.FirstUserMessage(); um != nil && um.PayloadInfo != nil {
		infos = um.PayloadInfo.PartInfo
	}
	for _, a := range parts {
		for _, pi := range infos {
			if normalizeContentID(pi.Href) != a.ID || pi.PartProperties == nil {
				continue
			}
			for _, p := range pi.PartProperties.Property {
				a.Properties[p.Name] = p.Value
			}
		}
		msg.Attachments = append(msg.Attachments, a)
	}
	return msg, nil
}

func parseEnvelope(data []byte) (*AS4Message, error) {
	var envelope Envelope
	if err := xml.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal SOAP envelope: %w", err)
	}
	if envelope.Header == nil || envelope.Header.Messaging == nil {
		return nil, ErrMissingMessagingHeader
	}
	return &AS4Message{
		UserMessages:   envelope.Header.Messaging.UserMessage,
		SignalMessages: envelope.Header.Messaging.SignalMessage,
	}, nil
}

func generateBoundary() string {
	return fmt.Sprintf("----=_Part_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}
