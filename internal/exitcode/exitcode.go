package exitcode

// Exit codes for eduia commands
const (
	Success       = 0
	Error         = 1
	Usage         = 2
	ConfigMissing = 3
	Cancelled     = 130 // 128 + SIGINT
)

// ExitError is an error that carries a specific exit code
type ExitError struct {
	Code    int
	Message string
}

func (e ExitError) Error() string {
	return e.Message
}

// Convenience constructors
func Failed(msg string) ExitError   { return ExitError{Code: Error, Message: msg} }
func Misuse(msg string) ExitError   { return ExitError{Code: Usage, Message: msg} }
func NoConfig(msg string) ExitError { return ExitError{Code: ConfigMissing, Message: msg} }
func Cancel() ExitError             { return ExitError{Code: Cancelled, Message: "cancelled"} }
