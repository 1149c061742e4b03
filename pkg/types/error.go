package types

// ConstError is an error type for sentinel errors that can be declared as
// constants.
type ConstError string

func (err ConstError) Error() string { return string(err) }
