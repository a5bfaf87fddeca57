package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-msh/internal/bodystore"
	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/pkg/ebms"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
	"github.com/sirosfoundation/go-msh/pkg/transport"
)

var (
	// ErrNoSubmitMessage is returned by submit steps run without a submit message
	ErrNoSubmitMessage = errors.New("context has no submit message")
	// ErrOverrideNotAllowed is returned when a submit message changes a value
	// fixed by a sending P-Mode that does not allow overrides
	ErrOverrideNotAllowed = errors.New("pmode does not allow override")
	// ErrUnsupportedLocation is returned for payload locations that cannot be retrieved
	ErrUnsupportedLocation = errors.New("unsupported payload location")
)

// RetrieveSendingPModeStep resolves the sending P-Mode named by a submit message
type RetrieveSendingPModeStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *RetrieveSendingPModeStep) Execute(_ context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	sm := mc.SubmitMessage()
	if sm == nil {
		return msh.StepResult{}, ErrNoSubmitMessage
	}
	pm, err := s.Deps.PModes.SendingPMode(sm.PModeID)
	if err != nil {
		return msh.StepResult{}, fmt.Errorf("submit message %s: %w", sm.MessageID, err)
	}
	return msh.Success(mc.WithSendingPMode(pm)), nil
}

// CreateAS4MessageStep turns a submit message into a user message. Values
// of the submit message take precedence over the P-Mode only when the
// P-Mode allows overrides or leaves them empty.
type CreateAS4MessageStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *CreateAS4MessageStep) Execute(ctx context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	sm := mc.SubmitMessage()
	if sm == nil {
		return msh.StepResult{}, ErrNoSubmitMessage
	}
	pm := mc.SendingPMode()
	if pm == nil {
		return msh.StepResult{}, errors.New("context has no sending pmode")
	}

	um, err := buildUserMessage(sm, pm)
	if err != nil {
		return msh.StepResult{}, err
	}
	msg := ebms.NewAS4Message(um)
	for _, p := range sm.Payloads {
		a, err := s.retrieve(ctx, p)
		if err != nil {
			msg.Close()
			return msh.StepResult{}, err
		}
		msg.AddAttachment(a)
	}
	return msh.Success(mc.WithAS4Message(msg)), nil
}

func buildUserMessage(sm *msh.SubmitMessage, pm *pmode.SendingProcessingMode) (*ebms.UserMessage, error) {
	pkg := pm.MessagePackaging
	var pmFrom, pmTo *ebms.Party
	if pkg.PartyInfo != nil {
		pmFrom, pmTo = pkg.PartyInfo.FromParty, pkg.PartyInfo.ToParty
	}
	var pmService, pmServiceType, pmAction, pmAgreement, pmAgreementType, pmAgreementPMode string
	if ci := pkg.CollaborationInfo; ci != nil {
		if ci.Service != nil {
			pmService, pmServiceType = ci.Service.Value, ci.Service.Type
		}
		pmAction = ci.Action
		if ar := ci.AgreementReference; ar != nil {
			pmAgreement, pmAgreementType, pmAgreementPMode = ar.Value, ar.Type, ar.PModeID
		}
	}

	o := overrider{allow: pm.AllowOverride}
	from := o.party("FromParty", pmFrom, sm.From)
	to := o.party("ToParty", pmTo, sm.To)
	mpc := o.value("MPC", pkg.MPC, sm.MPC)
	service := o.value("Service", pmService, sm.Service)
	serviceType := o.value("Service type", pmServiceType, sm.ServiceType)
	action := o.value("Action", pmAction, sm.Action)
	agreement := o.value("AgreementRef", pmAgreement, sm.AgreementRef)
	if o.err != nil {
		return nil, fmt.Errorf("submit message %s with pmode %s: %w", sm.MessageID, pm.ID, o.err)
	}
	if from.IsEmpty() || to.IsEmpty() {
		return nil, fmt.Errorf("submit message %s: sender and receiver party are required", sm.MessageID)
	}
	if service == "" || action == "" {
		return nil, fmt.Errorf("submit message %s: service and action are required", sm.MessageID)
	}

	opts := []ebms.Option{
		ebms.WithMessageID(sm.MessageID),
		ebms.WithRefToMessageID(sm.RefToMessageID),
		ebms.WithConversationID(sm.ConversationID),
		ebms.WithMPC(mpc),
		ebms.WithSender(from),
		ebms.WithReceiver(to),
		ebms.WithService(service, serviceType),
		ebms.WithAction(action),
	}
	if agreement != "" {
		opts = append(opts, ebms.WithAgreementRef(agreement, pmAgreementType, pmAgreementPMode))
	}
	for _, p := range pkg.MessageProperties {
		opts = append(opts, ebms.WithMessageProperty(p.Name, p.Value))
	}
	for _, p := range sm.MessageProperties {
		opts = append(opts, ebms.WithMessageProperty(p.Name, p.Value))
	}
	return ebms.NewUserMessage(opts...), nil
}

// overrider merges P-Mode and submit values, remembering the first
// forbidden override.
type overrider struct {
	allow bool
	err   error
}

func (o *overrider) value(name, fromPMode, fromSubmit string) string {
	switch {
	case fromSubmit == "":
		return fromPMode
	case fromPMode == "" || fromPMode == fromSubmit || o.allow:
		return fromSubmit
	}
	if o.err == nil {
		o.err = fmt.Errorf("%w: %s %q differs from %q", ErrOverrideNotAllowed, name, fromSubmit, fromPMode)
	}
	return fromPMode
}

func (o *overrider) party(name string, fromPMode, fromSubmit *ebms.Party) *ebms.Party {
	switch {
	case fromSubmit.IsEmpty():
		return fromPMode
	case fromPMode.IsEmpty() || fromPMode.Equal(fromSubmit) || o.allow:
		return fromSubmit
	}
	if o.err == nil {
		o.err = fmt.Errorf("%w: %s", ErrOverrideNotAllowed, name)
	}
	return fromPMode
}

// retrieve opens a submitted payload. file:// payloads are streamed,
// http(s):// payloads are downloaded.
func (s *CreateAS4MessageStep) retrieve(ctx context.Context, p msh.Payload) (*ebms.Attachment, error) {
	id := p.ID
	if id == "" {
		id = uuid.NewString() + "@go-msh"
	}
	contentType := p.ContentType

	var a *ebms.Attachment
	switch {
	case strings.HasPrefix(p.Location, bodystore.FileScheme):
		f, err := os.Open(bodystore.Path(p.Location))
		if err != nil {
			return nil, fmt.Errorf("payload %s: %w", id, err)
		}
		a = ebms.NewAttachment(id, contentType, f)
	case strings.HasPrefix(p.Location, "http://"), strings.HasPrefix(p.Location, "https://"):
		client, err := s.Deps.clients().Client(transport.TLSFiles{})
		if err != nil {
			return nil, err
		}
		resp, err := client.Fetch(ctx, p.Location)
		if err != nil {
			return nil, fmt.Errorf("payload %s: %w", id, err)
		}
		if contentType == "" {
			contentType = resp.ContentType
		}
		a = ebms.NewAttachment(id, contentType, bytes.NewReader(resp.Body))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLocation, p.Location)
	}

	if a.ContentType == "" {
		a.ContentType = "application/octet-stream"
	}
	for name, value := range p.Properties {
		a.Properties[name] = value
	}
	a.Properties[ebms.PartPropertyMimeType] = a.ContentType
	return a, nil
}

// StoreAS4MessageStep saves a submitted user message as an out message that
// is ToBeProcessed.
type StoreAS4MessageStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *StoreAS4MessageStep) Execute(ctx context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	msg := mc.AS4Message()
	um := msg.FirstUserMessage()
	if um == nil {
		return msh.StepResult{}, errors.New("context has no user message to store")
	}
	pm := mc.SendingPMode()
	snapshot, err := mc.SendingPModeString()
	if err != nil {
		return msh.StepResult{}, err
	}

	location, contentType, err := bodystore.SaveMessage(ctx, s.Deps.Bodies, s.Deps.serializer(), s.Deps.OutLocation, msg)
	if err != nil {
		return msh.StepResult{}, err
	}

	out := &entities.OutMessage{Status: entities.OutCreated, URL: pm.URL()}
	out.Describe(um)
	out.MEP = entities.MEP(pm.Binding())
	out.ContentType = contentType
	out.MessageLocation = location
	out.PModeID = pm.ID
	out.PMode = snapshot
	out.Operation = entities.ToBeProcessed
	if err := s.Deps.Repo.Insert(ctx, out); err != nil {
		return msh.StepResult{}, err
	}

	s.Deps.logger().Info("submitted message stored", "message_id", out.EbmsMessageID, "pmode", pm.ID)
	return msh.Success(mc.WithEntity(entities.TableOutMessages, out.ID)), nil
}
