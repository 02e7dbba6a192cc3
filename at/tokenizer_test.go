package at_test

import (
	"bufio"
	"strings"
	"testing"

	"i4.energy/across/bg95ctl/at"
)

func TestSplitter(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Simple AT command response",
			input:    "AT+CSQ\r\n+CSQ: 15,99\r\nOK\r\n",
			expected: []string{"AT+CSQ", "+CSQ: 15,99", "OK"},
		},
		{
			name:     "Echo terminated by CR CR LF",
			input:    "AT+CSQ\r\r\n+CSQ: 15,99\r\n\r\nOK\r\n",
			expected: []string{"AT+CSQ", "+CSQ: 15,99", "", "OK"},
		},
		{
			name:     "AT command with error",
			input:    "AT+QGPSLOC=2\r\n+CME ERROR: 516\r\n",
			expected: []string{"AT+QGPSLOC=2", "+CME ERROR: 516"},
		},
		{
			name:     "Network registration check",
			input:    "AT+CREG?\r\n+CREG: 0,1\r\nOK\r\n",
			expected: []string{"AT+CREG?", "+CREG: 0,1", "OK"},
		},
		{
			name:     "Product identification",
			input:    "ATI\r\nQuectel\r\nBG95-M3\r\nRevision: BG95M3LAR02A03\r\nOK\r\n",
			expected: []string{"ATI", "Quectel", "BG95-M3", "Revision: BG95M3LAR02A03", "OK"},
		},
		{
			name:     "URC mixed with AT response",
			input:    "AT+CSQ\r\n+QIND: SMS DONE\r\n+CSQ: 20,99\r\nOK\r\n",
			expected: []string{"AT+CSQ", "+QIND: SMS DONE", "+CSQ: 20,99", "OK"},
		},
		{
			name:     "Empty lines handling",
			input:    "\r\n\r\nAT\r\nOK\r\n\r\n",
			expected: []string{"", "", "AT", "OK", ""},
		},
		{
			name:     "Upload prompt",
			input:    "AT+QHTTPURL=23,80\r\nCONNECT\r\n",
			expected: []string{"AT+QHTTPURL=23,80", "CONNECT"},
		},
		{
			name:     "Response cut off mid-stream at EOF",
			input:    "AT+CSQ\r\n+CSQ: 15,99\r\nOK\r\n+QPING: 0",
			expected: []string{"AT+CSQ", "+CSQ: 15,99", "OK", "+QPING: 0"},
		},
		{
			name:     "Trailing CR at EOF",
			input:    "ATI\r\nQuectel\r",
			expected: []string{"ATI", "Quectel"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tokens []string
			scanner := bufio.NewScanner(strings.NewReader(tt.input))
			scanner.Split(at.Splitter)

			for scanner.Scan() {
				tokens = append(tokens, scanner.Text())
			}

			if err := scanner.Err(); err != nil {
				t.Fatalf("Scanner error: %v", err)
			}

			if len(tokens) != len(tt.expected) {
				t.Fatalf("Expected %d tokens, got %d.\nExpected: %v\nGot: %v",
					len(tt.expected), len(tokens), tt.expected, tokens)
			}

			for i, expected := range tt.expected {
				if tokens[i] != expected {
					t.Errorf("Token %d: expected %q, got %q", i, expected, tokens[i])
				}
			}
		})
	}
}

func TestFrameReader(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected at.Kind
		success  bool
		code     at.ErrorCode
	}{
		// Terminal responses
		{name: "OK response", input: "OK", expected: at.KindTerminal, success: true, code: at.CodeOK},
		{name: "CONNECT response", input: "CONNECT", expected: at.KindTerminal, success: true, code: at.CodeOK},
		{name: "ERROR response", input: "ERROR", expected: at.KindTerminal, code: at.CodeUndefined},
		{name: "CME Error", input: "+CME ERROR: 516", expected: at.KindTerminal, code: 516},
		{name: "CMS Error", input: "+CMS ERROR: 30", expected: at.KindTerminal, code: 30},
		{name: "Verbose CME Error", input: "+CME ERROR: SIM not inserted", expected: at.KindTerminal, code: 10},
		{name: "Garbled CME Error", input: "+CME ERROR: ???", expected: at.KindTerminal, code: at.CodeUndefined},

		// Data responses
		{name: "Signal quality response", input: "+CSQ: 15,99", expected: at.KindData},
		{name: "PIN status", input: "+CPIN: READY", expected: at.KindData},
		{name: "Network registration", input: "+CREG: 0,1", expected: at.KindData},
		{name: "Device info", input: "Quectel", expected: at.KindData},
		{name: "Empty line", input: "", expected: at.KindData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := at.NewFrameReader(true, at.CommandTerminals...)
			if echo := r.Next("AT+TEST"); echo.Kind != at.KindEcho {
				t.Fatalf("first line: expected Echo, got %v", echo.Kind)
			}

			f := r.Next(tt.input)
			if f.Kind != tt.expected {
				t.Fatalf("Expected %v, got %v for input %q", tt.expected, f.Kind, tt.input)
			}
			if f.Kind != at.KindTerminal {
				return
			}
			if f.Terminal.Success != tt.success {
				t.Errorf("Expected success=%v for %q", tt.success, tt.input)
			}
			if f.Terminal.Code != tt.code {
				t.Errorf("Expected code %d, got %d for %q", tt.code, f.Terminal.Code, tt.input)
			}
		})
	}
}

func TestFrameReaderEchoIsNeverInspected(t *testing.T) {
	r := at.NewFrameReader(true, at.CommandTerminals...)

	if f := r.Next("OK"); f.Kind != at.KindEcho {
		t.Errorf("expected the first line to be Echo, got %v", f.Kind)
	}
	if f := r.Next("OK"); f.Kind != at.KindTerminal {
		t.Errorf("expected the second line to be Terminal, got %v", f.Kind)
	}
}

func TestFrameReaderCustomPrefix(t *testing.T) {
	r := at.NewFrameReader(false, "+QPING: 0,4")

	if f := r.Next(`+QPING: 0,"8.8.8.8",32,40,255`); f.Kind != at.KindData {
		t.Errorf("expected Data, got %v", f.Kind)
	}
	if f := r.Next("OK"); f.Kind != at.KindData {
		t.Errorf("OK must not end a URC wait, got %v", f.Kind)
	}
	f := r.Next("+QPING: 0,4,4,0,36,52,42")
	if f.Kind != at.KindTerminal || !f.Terminal.Success {
		t.Errorf("expected successful Terminal, got %+v", f)
	}
}
