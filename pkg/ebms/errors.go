package ebms

// ErrorCode is an ebMS3 error code definition
type ErrorCode struct {
	Code             string
	Severity         string
	ShortDescription string
	Category         string
}

// Detail renders the code as an ErrorDetail for a referenced message
func (c ErrorCode) Detail(refToMessageID, description string) *ErrorDetail {
	return &ErrorDetail{
		ErrorCode:           c.Code,
		Severity:            c.Severity,
		ShortDescription:    c.ShortDescription,
		Category:            c.Category,
		Origin:              "ebMS",
		RefToMessageInError: refToMessageID,
		Description:         description,
	}
}

// String returns "EBMS:xxxx ShortDescription"
func (c ErrorCode) String() string {
	return c.Code + " " + c.ShortDescription
}

// Predefined ebMS3 and AS4 error codes
var (
	ErrValueNotRecognized           = ErrorCode{"EBMS:0001", "failure", "ValueNotRecognized", "Content"}
	ErrFeatureNotSupported          = ErrorCode{"EBMS:0002", "warning", "FeatureNotSupported", "Content"}
	ErrValueInconsistent            = ErrorCode{"EBMS:0003", "failure", "ValueInconsistent", "Content"}
	ErrOther                        = ErrorCode{"EBMS:0004", "failure", "Other", "Content"}
	ErrConnectionFailure            = ErrorCode{"EBMS:0005", "failure", "ConnectionFailure", "Communication"}
	ErrEmptyMessagePartitionChannel = ErrorCode{"EBMS:0006", "warning", "EmptyMessagePartitionChannel", "Communication"}
	ErrMimeInconsistency            = ErrorCode{"EBMS:0007", "failure", "MimeInconsistency", "Unpackaging"}
	ErrInvalidHeader                = ErrorCode{"EBMS:0009", "failure", "InvalidHeader", "Unpackaging"}
	ErrProcessingModeMismatch       = ErrorCode{"EBMS:0010", "failure", "ProcessingModeMismatch", "Processing"}
	ErrExternalPayloadError         = ErrorCode{"EBMS:0011", "failure", "ExternalPayloadError", "Content"}
	ErrFailedAuthentication         = ErrorCode{"EBMS:0101", "failure", "FailedAuthentication", "Processing"}
	ErrFailedDecryption             = ErrorCode{"EBMS:0102", "failure", "FailedDecryption", "Processing"}
	ErrPolicyNoncompliance          = ErrorCode{"EBMS:0103", "failure", "PolicyNoncompliance", "Processing"}
	ErrDeliveryFailure              = ErrorCode{"EBMS:0202", "failure", "DeliveryFailure", "Communication"}
	ErrMissingReceipt               = ErrorCode{"EBMS:0301", "failure", "MissingReceipt", "Communication"}
	ErrInvalidReceipt               = ErrorCode{"EBMS:0302", "failure", "InvalidReceipt", "Communication"}
	ErrDecompressionFailure         = ErrorCode{"EBMS:0303", "failure", "DecompressionFailure", "Communication"}
)
