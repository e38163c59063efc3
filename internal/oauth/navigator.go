// navigator.go -- Hooks presenting the authorization URL to the user during an interactive flow.
package oauth

import "context"

// Navigator is called twice per interactive flow, in order:
// OpenURL with the authorization URL, then NavigationDone once the
// redirect arrived, the wait was abandoned, or OpenURL failed.
type Navigator interface {
	OpenURL(ctx context.Context, authURL string) error
	NavigationDone(ctx context.Context) error
}

// NavigatorFuncs adapts a function pair to Navigator. Nil funcs are no-ops.
type NavigatorFuncs struct {
	Open func(ctx context.Context, authURL string) error
	Done func(ctx context.Context) error
}

func (n NavigatorFuncs) OpenURL(ctx context.Context, authURL string) error {
	if n.Open == nil {
		return nil
	}
	return n.Open(ctx, authURL)
}

func (n NavigatorFuncs) NavigationDone(ctx context.Context) error {
	if n.Done == nil {
		return nil
	}
	return n.Done(ctx)
}

// BrowserNavigator opens the authorization URL in the system browser.
type BrowserNavigator struct{}

func (BrowserNavigator) OpenURL(_ context.Context, authURL string) error {
	return OpenBrowser(authURL)
}

// NavigationDone does nothing; the browser tab is left to the user.
func (BrowserNavigator) NavigationDone(context.Context) error { return nil }
