package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/oauth2"
)

// Authenticator attaches credentials to an outgoing request. Implementations
// correspond to the three --login-method choices in spec.md §6.
type Authenticator interface {
	Authenticate(req *http.Request) error
}

// BasicAuth attaches HTTP Basic credentials to every request.
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) Authenticate(req *http.Request) error {
	req.SetBasicAuth(b.Username, b.Password)
	return nil
}

// OAuthAuth signs requests with a bearer token obtained via an interactive
// OAuth2 flow (golang.org/x/oauth2), restoring the "open browser -> local
// callback server -> exchange code for token" flow from spec.md §4.4 in
// OAuth2 terms (the original used OAuth1/RFC 5849; OAuth2's authorization
// code flow plays the same "first use" role here). A TokenStore persists
// the token across mounts unless the driver was started with
// --oauth-no-store.
type OAuthAuth struct {
	Config *oauth2.Config
	Store  TokenStore
	// NoLogin, when true, fails Authenticate instead of driving the
	// interactive flow if no stored token is present.
	NoLogin bool
	// Login drives the interactive exchange (opening a browser and
	// running a local callback listener). Supplied by the caller so this
	// package doesn't itself own a browser-launching dependency; it is
	// invoked whenever Authenticate finds no valid token in memory or in
	// Store (for example after the held token has expired).
	Login func(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)

	token *oauth2.Token
}

// TokenStore persists/loads an OAuth2 token across mounts.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
}

func (o *OAuthAuth) Authenticate(req *http.Request) error {
	tok, err := o.currentToken(req.Context())
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)
	return nil
}

func (o *OAuthAuth) currentToken(ctx context.Context) (*oauth2.Token, error) {
	if o.token != nil && o.token.Valid() {
		return o.token, nil
	}
	if o.Store != nil {
		if tok, err := o.Store.Load(); err == nil && tok != nil && tok.Valid() {
			o.token = tok
			return tok, nil
		}
	}
	if o.NoLogin {
		return nil, fmt.Errorf("oauth: no valid session token and --oauth-no-login is set")
	}
	if o.Login == nil {
		return nil, fmt.Errorf("oauth: no valid session token and no interactive login configured")
	}
	tok, err := o.Login(ctx, o.Config)
	if err != nil {
		return nil, fmt.Errorf("oauth: interactive login failed: %w", err)
	}
	o.token = tok
	if o.Store != nil {
		if err := o.Store.Save(tok); err != nil {
			// Token persistence is best-effort per spec.md §4.4.
			return tok, nil
		}
	}
	return tok, nil
}

// FormSSOAuth performs a GET/parse/POST single-form SSO dance: GET the
// start URL, extract the single <form action=...>, POST credentials,
// receive a SAML assertion form, then POST that form to its own action
// URL. The concrete form-parsing is delegated to ParseSingleForm so this
// package stays independent of any particular SSO provider's markup.
type FormSSOAuth struct {
	StartURL string
	Username string
	Password string
	Do       func(req *http.Request) (*http.Response, error)

	cookies []*http.Cookie
}

// ParsedForm is the minimal shape FormSSOAuth needs out of an HTML form.
type ParsedForm struct {
	Action string
	Fields map[string]string
}

var formActionRE = regexp.MustCompile(`(?is)<form[^>]*\baction=["']([^"']+)["']`)

// ParseSingleForm extracts the action URL of the first <form> element in
// html. It is intentionally minimal (not a full HTML parser) since the
// concrete SSO markup is out of scope (spec.md §1).
func ParseSingleForm(html string) (string, error) {
	m := formActionRE.FindStringSubmatch(html)
	if m == nil {
		return "", fmt.Errorf("sso: no <form> with an action attribute found in response")
	}
	return m[1], nil
}

func (f *FormSSOAuth) Authenticate(req *http.Request) error {
	for _, ck := range f.cookies {
		req.AddCookie(ck)
	}
	return nil
}

// Login drives the GET -> parse -> POST credentials -> parse SAML form ->
// POST dance described in spec.md §4.4, storing any session cookies for
// subsequent Authenticate calls.
func (f *FormSSOAuth) Login(ctx context.Context) error {
	if f.Do == nil {
		return fmt.Errorf("sso: no HTTP transport configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.StartURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.Do(req)
	if err != nil {
		return fmt.Errorf("sso: fetch start url: %w", err)
	}
	loginAction, body, err := readFormAction(resp)
	if err != nil {
		return err
	}
	_ = body

	form := url.Values{"j_username": {f.Username}, "j_password": {f.Password}}
	req2, err := http.NewRequestWithContext(ctx, http.MethodPost, loginAction, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp2, err := f.Do(req2)
	if err != nil {
		return fmt.Errorf("sso: post credentials: %w", err)
	}
	samlAction, samlBody, err := readFormAction(resp2)
	if err != nil {
		return fmt.Errorf("sso: credentials rejected or SAML form missing: %w", err)
	}

	req3, err := http.NewRequestWithContext(ctx, http.MethodPost, samlAction, strings.NewReader(samlBody))
	if err != nil {
		return err
	}
	req3.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp3, err := f.Do(req3)
	if err != nil {
		return fmt.Errorf("sso: post saml assertion: %w", err)
	}
	f.cookies = resp3.Cookies()
	return nil
}

func readFormAction(resp *http.Response) (action string, rawBody string, err error) {
	defer func() { _ = resp.Body.Close() }()
	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	rawBody = string(buf)
	action, err = ParseSingleForm(rawBody)
	return action, rawBody, err
}
