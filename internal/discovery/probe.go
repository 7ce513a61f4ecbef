package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"galleryscraper/pkg/browser"
)

// Control strategies, in priority order
const (
	StrategyNext     = "next"
	StrategyLoadMore = "load_more"
)

// nextLabelPattern matches "next" as a whole word. The lookup script tests
// aria-label and visible text separately with the same pattern.
const nextLabelPattern = `\bnext\b`

// maxNextTextLength bounds the visible text of a next control so prose
// containing the word is not clicked
const maxNextTextLength = 40

var nextLabel = regexp.MustCompile(`(?i)` + nextLabelPattern)

// IsNextLabel reports whether an element with this aria-label and text is a
// "next" control
func IsNextLabel(ariaLabel, text string) bool {
	if nextLabel.MatchString(ariaLabel) {
		return true
	}
	return len([]rune(text)) <= maxNextTextLength && nextLabel.MatchString(text)
}

// controlAttr tags the control found by the lookup script so it can be
// clicked through a plain selector
const controlAttr = "data-gs-control"

// PageState is the observable progress of the listing page
type PageState struct {
	URL          string `json:"url"`
	ItemCount    int    `json:"count"`
	ScrollHeight int    `json:"height"`
}

// Control is a clickable pagination element
type Control struct {
	Selector string `json:"selector"`
	Strategy string `json:"strategy"`
	Label    string `json:"label"`
}

// Probe reads and drives the listing page
type Probe interface {
	State(ctx context.Context) (PageState, error)
	// FindControl returns nil when no candidate control is present
	FindControl(ctx context.Context) (*Control, error)
	Click(ctx context.Context, c Control) error
	ScrollToBottom(ctx context.Context) error
	ScrollHeight(ctx context.Context) (int, error)
}

// ScriptProbe implements Probe with page scripts on a browser session
type ScriptProbe struct {
	session      browser.Session
	itemSelector string
}

// NewScriptProbe counts items matching itemSelector
func NewScriptProbe(s browser.Session, itemSelector string) *ScriptProbe {
	return &ScriptProbe{session: s, itemSelector: itemSelector}
}

func (p *ScriptProbe) State(ctx context.Context) (PageState, error) {
	var state PageState
	if err := p.session.Evaluate(ctx, stateScript(p.itemSelector), &state); err != nil {
		return PageState{}, err
	}
	return state, nil
}

func (p *ScriptProbe) FindControl(ctx context.Context) (*Control, error) {
	var ctrl *Control
	if err := p.session.Evaluate(ctx, findControlScript, &ctrl); err != nil {
		return nil, err
	}
	if ctrl == nil || ctrl.Selector == "" {
		return nil, nil
	}
	return ctrl, nil
}

func (p *ScriptProbe) Click(ctx context.Context, c Control) error {
	return p.session.Click(ctx, c.Selector)
}

func (p *ScriptProbe) ScrollToBottom(ctx context.Context) error {
	return p.session.Evaluate(ctx, scrollScript, nil)
}

func (p *ScriptProbe) ScrollHeight(ctx context.Context) (int, error) {
	var h int
	if err := p.session.Evaluate(ctx, heightScript, &h); err != nil {
		return 0, err
	}
	return h, nil
}

func stateScript(itemSelector string) string {
	sel, _ := json.Marshal(itemSelector)
	return fmt.Sprintf(`() => ({
  url: window.location.href,
  count: document.querySelectorAll(%s).length,
  height: document.documentElement.scrollHeight || document.body.scrollHeight
})`, sel)
}

const heightScript = `() => document.documentElement.scrollHeight || document.body.scrollHeight`

const scrollScript = `() => { window.scrollTo(0, document.documentElement.scrollHeight || document.body.scrollHeight); return true }`

// findControlScript looks for an enabled, visible "next" control first and
// then for load-more or pagination elements, tagging the match for Click.
var findControlScript = fmt.Sprintf(`() => {
  const attr = %q;
  document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));
  const visible = el => {
    const r = el.getBoundingClientRect();
    const s = window.getComputedStyle(el);
    return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
  };
  const enabled = el => !el.disabled && el.getAttribute('aria-disabled') !== 'true';
  const nextLabel = new RegExp(%q, 'i');
  const aria = el => (el.getAttribute('aria-label') || '').trim();
  const text = el => (el.innerText || el.textContent || '').trim();
  const label = el => (aria(el) + ' ' + text(el)).trim();
  const isNext = el => nextLabel.test(aria(el)) || (text(el).length <= %d && nextLabel.test(text(el)));
  const candidates = Array.from(document.querySelectorAll('a, button, [role="button"], input[type="button"], input[type="submit"]'));
  const tag = (el, strategy) => {
    el.setAttribute(attr, strategy);
    return { selector: '[' + attr + '="' + strategy + '"]', strategy: strategy, label: label(el).slice(0, 80) };
  };
  for (const el of candidates) {
    if (isNext(el) && enabled(el) && visible(el)) return tag(el, %q);
  }
  const all = Array.from(document.querySelectorAll('[class], [aria-label]'));
  for (const el of all) {
    const hint = ((typeof el.className === 'string' ? el.className : '') + ' ' + (el.getAttribute('aria-label') || '')).toLowerCase();
    if (/load|more|pagination/.test(hint) && enabled(el) && visible(el)) return tag(el, %q);
  }
  return null;
}`, controlAttr, nextLabelPattern, maxNextTextLength, StrategyNext, StrategyLoadMore)
