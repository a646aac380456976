package signature

// MissingSignatureError reports that a requested application, model or field
// signature is absent. It usually means a baseline has not been installed,
// or an evolution references an entity the stored signature never had.
type MissingSignatureError struct {
	msg string
}

func (e *MissingSignatureError) Error() string {
	return e.msg
}
