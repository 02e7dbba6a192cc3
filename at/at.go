package at

import (
	"fmt"
	"time"
)

const (
	// Terminal Control
	CR = "\r"

	// Response Codes
	OK       = "OK"
	CONNECT  = "CONNECT"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR:"
	CmsError = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcSimReady    = "+CPIN: READY"
	UrcUSIMReady   = "+QUSIM: 1"
	UrcSMSDone     = "+QIND: SMS DONE"
	UrcPing        = "+QPING:"
	UrcNTP         = "+QNTP:"
	UrcHTTPGet     = "+QHTTPGET:"
	UrcHTTPPost    = "+QHTTPPOST:"
	UrcHTTPRead    = "+QHTTPREAD:"
	UrcPoweredDown = "POWERED DOWN"

	// Response prefixes
	PrefixCREG    = "+CREG:"
	PrefixCEREG   = "+CEREG:"
	PrefixCGREG   = "+CGREG:"
	PrefixCSQ     = "+CSQ:"
	PrefixQCSQ    = "+QCSQ:"
	PrefixCOPS    = "+COPS:"
	PrefixCGATT   = "+CGATT:"
	PrefixCGEREP  = "+CGEREP:"
	PrefixCGDCONT = "+CGDCONT:"
	PrefixCGACT   = "+CGACT:"
	PrefixCGPADDR = "+CGPADDR:"
	PrefixCCLK    = "+CCLK:"
	PrefixQCCID   = "+QCCID:"
	PrefixQNWINFO = "+QNWINFO:"
	PrefixQTEMP   = "+QTEMP:"
	PrefixQGPS    = "+QGPS:"
	PrefixQGPSLOC = "+QGPSLOC:"
)

// DefaultTimeout is the response timeout used by most commands.
const DefaultTimeout = 5 * time.Second

// Command is a single AT command line and the time allowed for each
// response line to arrive.
type Command struct {
	Text    string
	Timeout time.Duration
}

// NewCommand returns a Command with DefaultTimeout.
func NewCommand(text string) Command {
	return Command{Text: text, Timeout: DefaultTimeout}
}

// WithTimeout returns a copy of c using timeout.
func (c Command) WithTimeout(timeout time.Duration) Command {
	c.Timeout = timeout
	return c
}

func (c Command) String() string {
	return c.Text
}

// General commands
func AT() Command    { return NewCommand("AT") }
func ATI() Command   { return NewCommand("ATI") }
func GSN() Command   { return NewCommand("AT+GSN") }
func CMEE() Command  { return NewCommand("AT+CMEE=1") }
func CCLK() Command  { return NewCommand("AT+CCLK?") }
func QTEMP() Command { return NewCommand("AT+QTEMP") }

// QPOWD requests a normal power down. The modem answers OK and reports
// POWERED DOWN once it is safe to cut the supply.
func QPOWD() Command { return NewCommand("AT+QPOWD=1") }

// Echo switches command echo on or off.
func Echo(on bool) Command {
	if on {
		return NewCommand("ATE1")
	}
	return NewCommand("ATE0")
}

// CFUN switches the radio on (full functionality) or off (minimum functionality).
func CFUN(on bool) Command {
	if on {
		return NewCommand("AT+CFUN=1")
	}
	return NewCommand("AT+CFUN=0")
}

// SIM
func CIMI() Command  { return NewCommand("AT+CIMI") }
func QCCID() Command { return NewCommand("AT+QCCID") }

// Network service
func CREG() Command    { return NewCommand("AT+CREG?") }
func CEREG() Command   { return NewCommand("AT+CEREG?") }
func CGREG() Command   { return NewCommand("AT+CGREG?") }
func CSQ() Command     { return NewCommand("AT+CSQ") }
func QCSQ() Command    { return NewCommand("AT+QCSQ") }
func COPS() Command    { return NewCommand("AT+COPS?") }
func QNWINFO() Command { return NewCommand("AT+QNWINFO") }

// Packet domain
func CGATT() Command   { return NewCommand("AT+CGATT?") }
func CGDCONT() Command { return NewCommand("AT+CGDCONT?") }
func CGACT() Command   { return NewCommand("AT+CGACT?") }
func CGEREP() Command  { return NewCommand("AT+CGEREP?") }

func CGPADDR(cid int) Command {
	return NewCommand(fmt.Sprintf("AT+CGPADDR=%d", cid))
}

// TCP/IP
func QPING(cid int, host string, timeout, count int) Command {
	return NewCommand(fmt.Sprintf(`AT+QPING=%d,"%s",%d,%d`, cid, host, timeout, count))
}

func QNTP(cid int, server string, port int) Command {
	return NewCommand(fmt.Sprintf(`AT+QNTP=%d,"%s",%d`, cid, server, port))
}

// GNSS

// QGPSCFGPriority sets GNSS (0) or WWAN (1) as the preferred RF user.
func QGPSCFGPriority(prio int) Command {
	return NewCommand(fmt.Sprintf(`AT+QGPSCFG="priority",%d,0`, prio))
}

func QGPSOn() Command     { return NewCommand("AT+QGPS=1,1") }
func QGPSEnd() Command    { return NewCommand("AT+QGPSEND") }
func QGPSStatus() Command { return NewCommand("AT+QGPS?") }

// QGPSLOC requests the position in decimal degrees (mode 2).
func QGPSLOC() Command { return NewCommand("AT+QGPSLOC=2") }

// SSL

// QSSLCFGVersion allows all SSL/TLS versions on the context.
func QSSLCFGVersion(ctx int) Command {
	return NewCommand(fmt.Sprintf(`AT+QSSLCFG="sslversion",%d,4`, ctx))
}

// QSSLCFGCipherSuite allows all cipher suites on the context.
func QSSLCFGCipherSuite(ctx int) Command {
	return NewCommand(fmt.Sprintf(`AT+QSSLCFG="ciphersuite",%d,0xFFFF`, ctx))
}

// QSSLCFGSecLevel sets the verification level; 0 skips CA verification.
func QSSLCFGSecLevel(ctx, level int) Command {
	return NewCommand(fmt.Sprintf(`AT+QSSLCFG="seclevel",%d,%d`, ctx, level))
}

// HTTP(S)
func QHTTPCFGContext(cid int) Command {
	return NewCommand(fmt.Sprintf(`AT+QHTTPCFG="contextid",%d`, cid))
}

func QHTTPCFGResponseHeader(on bool) Command {
	if on {
		return NewCommand(`AT+QHTTPCFG="responseheader",1`)
	}
	return NewCommand(`AT+QHTTPCFG="responseheader",0`)
}

func QHTTPCFGSSLContext(ctx int) Command {
	return NewCommand(fmt.Sprintf(`AT+QHTTPCFG="sslctxid",%d`, ctx))
}

// QHTTPURL announces a URL upload of n bytes. The modem answers CONNECT.
func QHTTPURL(n, timeoutSec int) Command {
	return Command{
		Text:    fmt.Sprintf("AT+QHTTPURL=%d,%d", n, timeoutSec),
		Timeout: time.Duration(timeoutSec) * time.Second,
	}
}

func QHTTPGET(timeoutSec int) Command {
	return Command{
		Text:    fmt.Sprintf("AT+QHTTPGET=%d", timeoutSec),
		Timeout: time.Duration(timeoutSec) * time.Second,
	}
}

// QHTTPPOST announces a body upload of n bytes. The modem answers CONNECT.
func QHTTPPOST(n, timeoutSec int) Command {
	return Command{
		Text:    fmt.Sprintf("AT+QHTTPPOST=%d,%d,%d", n, timeoutSec, timeoutSec),
		Timeout: time.Duration(timeoutSec) * time.Second,
	}
}

// QHTTPREAD requests the response body. The modem answers CONNECT and then
// pushes the body followed by OK.
func QHTTPREAD(timeoutSec int) Command {
	return Command{
		Text:    fmt.Sprintf("AT+QHTTPREAD=%d", timeoutSec),
		Timeout: time.Duration(timeoutSec) * time.Second,
	}
}
