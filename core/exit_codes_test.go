package core

import "testing"

func TestExitCodeName(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{ExitCodeSuccess, "success"},
		{ExitCodeError, "error"},
		{ExitCodeConfig, "configuration error"},
		{ExitCodeSIGINT, "interrupted (SIGINT)"},
		{ExitCodeSIGTERM, "terminated (SIGTERM)"},
		{42, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := ExitCodeName(tt.code); got != tt.want {
				t.Errorf("ExitCodeName(%d) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestSignalExitCodes(t *testing.T) {
	// 128 + signal number
	if ExitCodeSIGINT != 128+2 {
		t.Errorf("ExitCodeSIGINT = %d", ExitCodeSIGINT)
	}
	if ExitCodeSIGTERM != 128+15 {
		t.Errorf("ExitCodeSIGTERM = %d", ExitCodeSIGTERM)
	}
}
