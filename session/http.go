package session

import (
	"context"
	"fmt"
	"net/url"

	"i4.energy/across/bg95ctl/at"
	"i4.energy/across/bg95ctl/modem"
)

// HTTPResult is the completion report of an HTTP(S) GET or POST.
type HTTPResult struct {
	StatusCode int `json:"status_code"`
	// ContentLength is -1 when the server sent none.
	ContentLength int `json:"content_length"`
}

// Response is a complete HTTP(S) exchange.
type Response struct {
	HTTPResult
	Body []byte `json:"body"`
}

// ConfigureTLS binds the HTTP stack to the SSL context and opens that
// context to every protocol version and cipher suite without certificate
// verification.
func (s *Session) ConfigureTLS(ctx context.Context) error {
	cmds := []at.Command{
		at.QHTTPCFGSSLContext(s.config.SSLContext),
		at.QSSLCFGVersion(s.config.SSLContext),
		at.QSSLCFGCipherSuite(s.config.SSLContext),
		at.QSSLCFGSecLevel(s.config.SSLContext, 0),
	}
	for _, cmd := range cmds {
		if _, err := s.run(ctx, cmd); err != nil {
			return fmt.Errorf("configure TLS: %w", err)
		}
	}
	return nil
}

func (s *Session) configureHTTP(ctx context.Context) error {
	cmds := []at.Command{
		at.QHTTPCFGContext(s.config.PDPContext),
		at.QHTTPCFGResponseHeader(s.config.ResponseHeaders),
	}
	for _, cmd := range cmds {
		if _, err := s.run(ctx, cmd); err != nil {
			return fmt.Errorf("configure HTTP: %w", err)
		}
	}
	return nil
}

// upload sends cmd, which must switch the link to raw mode, then writes data.
func (s *Session) upload(ctx context.Context, cmd at.Command, data []byte) error {
	out, err := s.run(ctx, cmd)
	if err != nil {
		return err
	}
	if !out.Connected() {
		return fmt.Errorf("%s: %w", cmd.Text, ErrNotConnected)
	}
	if err := s.cmd.SendPayload(ctx, data, s.config.HTTPTimeout).Err(); err != nil {
		return fmt.Errorf("%s: upload: %w", cmd.Text, err)
	}
	return nil
}

// SetURL uploads the request URL.
func (s *Session) SetURL(ctx context.Context, rawURL string) error {
	cmd := at.QHTTPURL(len(rawURL), seconds(s.config.HTTPTimeout))
	if err := s.upload(ctx, cmd, []byte(rawURL)); err != nil {
		return fmt.Errorf("set URL: %w", err)
	}
	return nil
}

// HTTPGet sends a GET request to the URL set with SetURL and waits for the
// completion report.
func (s *Session) HTTPGet(ctx context.Context) (HTTPResult, error) {
	cmd := at.QHTTPGET(seconds(s.config.HTTPTimeout))
	if _, err := s.run(ctx, cmd); err != nil {
		return HTTPResult{}, err
	}
	return s.awaitHTTPResult(ctx, cmd, at.UrcHTTPGet)
}

// HTTPPost sends body as a POST request to the URL set with SetURL and
// waits for the completion report.
func (s *Session) HTTPPost(ctx context.Context, body []byte) (HTTPResult, error) {
	cmd := at.QHTTPPOST(len(body), seconds(s.config.HTTPTimeout))
	if err := s.upload(ctx, cmd, body); err != nil {
		return HTTPResult{}, err
	}
	return s.awaitHTTPResult(ctx, cmd, at.UrcHTTPPost)
}

func (s *Session) awaitHTTPResult(ctx context.Context, cmd at.Command, urc string) (HTTPResult, error) {
	wait := s.cmd.WaitFor(ctx, urc, s.config.HTTPTimeout, s.config.HTTPTimeout)
	if err := wait.Err(); err != nil {
		return HTTPResult{}, fmt.Errorf("%s: wait for %s: %w", cmd.Text, urc, err)
	}
	return s.checkHTTPResult(cmd, wait, urc)
}

func (s *Session) checkHTTPResult(cmd at.Command, wait modem.Outcome, urc string) (HTTPResult, error) {
	code, res, err := parseHTTPResult(wait.Final[len(urc):])
	if err != nil {
		return HTTPResult{}, fmt.Errorf("%s: %w", cmd.Text, err)
	}
	if code != 0 {
		return HTTPResult{}, &at.Error{Command: cmd.Text, Code: at.ErrorCode(code), Text: at.ErrorCode(code).String()}
	}
	s.logger.Debug("HTTP request completed", "cmd", cmd.Text, "status", res.StatusCode, "length", res.ContentLength)
	return res, nil
}

// HTTPRead downloads the body of the last response. Empty body lines are
// not preserved; the remaining lines are joined with newlines.
func (s *Session) HTTPRead(ctx context.Context) ([]byte, error) {
	cmd := at.QHTTPREAD(seconds(s.config.HTTPTimeout))
	out, err := s.run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !out.Connected() {
		return nil, fmt.Errorf("%s: %w", cmd.Text, ErrNotConnected)
	}

	body := s.cmd.ReceivePayload(ctx, s.config.HTTPTimeout)
	if err := body.Err(); err != nil {
		return nil, fmt.Errorf("%s: download: %w", cmd.Text, err)
	}

	wait := s.cmd.WaitFor(ctx, at.UrcHTTPRead, at.DefaultTimeout, at.DefaultTimeout)
	if err := wait.Err(); err != nil {
		return nil, fmt.Errorf("%s: wait for %s: %w", cmd.Text, at.UrcHTTPRead, err)
	}
	code, err := intField(splitFields(wait.Final[len(at.UrcHTTPRead):]), 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.Text, err)
	}
	if code != 0 {
		return nil, &at.Error{Command: cmd.Text, Code: at.ErrorCode(code), Text: at.ErrorCode(code).String()}
	}
	return []byte(body.Response()), nil
}

// Get performs a complete GET of rawURL. https URLs configure TLS first.
func (s *Session) Get(ctx context.Context, rawURL string) (Response, error) {
	if err := s.prepare(ctx, rawURL); err != nil {
		return Response{}, err
	}
	res, err := s.HTTPGet(ctx)
	if err != nil {
		return Response{}, err
	}
	return s.readResponse(ctx, res)
}

// Post performs a complete POST of body to rawURL. https URLs configure TLS
// first.
func (s *Session) Post(ctx context.Context, rawURL string, body []byte) (Response, error) {
	if err := s.prepare(ctx, rawURL); err != nil {
		return Response{}, err
	}
	res, err := s.HTTPPost(ctx, body)
	if err != nil {
		return Response{}, err
	}
	return s.readResponse(ctx, res)
}

func (s *Session) prepare(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse URL: %w", err)
	}
	switch u.Scheme {
	case "http":
	case "https":
		if err := s.ConfigureTLS(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if err := s.configureHTTP(ctx); err != nil {
		return err
	}
	return s.SetURL(ctx, rawURL)
}

func (s *Session) readResponse(ctx context.Context, res HTTPResult) (Response, error) {
	body, err := s.HTTPRead(ctx)
	if err != nil {
		return Response{HTTPResult: res}, err
	}
	return Response{HTTPResult: res, Body: body}, nil
}
