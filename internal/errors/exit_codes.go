package errors

type ExitCode int

const (
	ExitSuccess      ExitCode = 0
	ExitGeneralError ExitCode = 1
	ExitConfigError  ExitCode = 2
	ExitLLMError     ExitCode = 4
	ExitAuthError    ExitCode = 5
	ExitIOError      ExitCode = 6
)

func (e ExitCode) Int() int {
	return int(e)
}

// ExitCodeOf returns the exit code carried by err, or ExitGeneralError when err
// does not come from this package.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	var app interface{ exitCode() ExitCode }
	if as(err, &app) {
		return app.exitCode()
	}
	return ExitGeneralError
}

func (e *AppError) exitCode() ExitCode {
	if e == nil {
		return ExitGeneralError
	}
	return e.ExitCode
}
