package identity

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const robotsCacheTTL = 30 * time.Minute

// RobotsChecker evaluates robots.txt as a courtesy check. Every failure mode
// is fail-open: an unreachable or unparseable robots.txt allows the URL.
type RobotsChecker struct {
	client *resty.Client
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*robotsRules
}

type robotsRules struct {
	groups    []robotsGroup
	fetchedAt time.Time
	// failOpen marks a fetch that yielded no usable rules.
	failOpen bool
}

type robotsGroup struct {
	agents   []string
	allow    []string
	disallow []string
}

func NewRobotsChecker(logger *slog.Logger) *RobotsChecker {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(3))
	return &RobotsChecker{
		client: client,
		logger: logger.With("component", "robots"),
		cache:  make(map[string]*robotsRules),
	}
}

// Allowed reports whether userAgent may fetch rawURL according to the target
// host's robots.txt. It returns true on any fetch or parse problem.
func (rc *RobotsChecker) Allowed(ctx context.Context, rawURL, userAgent string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		rc.logger.Warn("robots check skipped, unparseable url", "url", rawURL)
		return true
	}

	rules := rc.rulesFor(ctx, parsed.Scheme+"://"+parsed.Host)
	if rules.failOpen {
		return true
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}

	allowed := rules.allows(userAgent, path)
	if !allowed {
		rc.logger.Info("robots.txt disallows url", "url", rawURL, "user_agent", userAgent)
	} else {
		rc.logger.Debug("robots.txt allows url", "url", rawURL)
	}
	return allowed
}

func (rc *RobotsChecker) rulesFor(ctx context.Context, base string) *robotsRules {
	rc.mu.Lock()
	if rules, ok := rc.cache[base]; ok && time.Since(rules.fetchedAt) < robotsCacheTTL {
		rc.mu.Unlock()
		return rules
	}
	rc.mu.Unlock()

	rules := rc.fetch(ctx, base)
	rules.fetchedAt = time.Now()

	rc.mu.Lock()
	rc.cache[base] = rules
	rc.mu.Unlock()

	return rules
}

func (rc *RobotsChecker) fetch(ctx context.Context, base string) *robotsRules {
	resp, err := rc.client.R().SetContext(ctx).Get(base + "/robots.txt")
	if err != nil {
		rc.logger.Warn("robots.txt fetch failed, allowing by default", "base", base, "error", err)
		return &robotsRules{failOpen: true}
	}
	if resp.StatusCode() != 200 {
		rc.logger.Debug("no robots.txt, allowing by default", "base", base, "status", resp.StatusCode())
		return &robotsRules{failOpen: true}
	}

	rules := parseRobotsTxt(string(resp.Body()))
	if len(rules.groups) == 0 {
		rules.failOpen = true
	}
	return rules
}

// parseRobotsTxt parses user-agent groups with their allow/disallow
// directives. Consecutive User-agent lines form one group.
func parseRobotsTxt(body string) *robotsRules {
	rules := &robotsRules{}
	var current *robotsGroup
	lastWasAgent := false

	for _, line := range strings.Split(body, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		directive := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])

		switch directive {
		case "user-agent":
			if lastWasAgent && current != nil {
				current.agents = append(current.agents, strings.ToLower(value))
			} else {
				rules.groups = append(rules.groups, robotsGroup{agents: []string{strings.ToLower(value)}})
				current = &rules.groups[len(rules.groups)-1]
			}
			lastWasAgent = true
			continue
		case "allow":
			if current != nil && value != "" {
				current.allow = append(current.allow, value)
			}
		case "disallow":
			if current != nil && value != "" {
				current.disallow = append(current.disallow, value)
			}
		}
		lastWasAgent = false
	}

	return rules
}

// allows evaluates path against the group matching userAgent, falling back
// to the wildcard group. Longest matching rule wins; ties go to Allow.
func (r *robotsRules) allows(userAgent, path string) bool {
	group := r.groupFor(userAgent)
	if group == nil {
		return true
	}

	longestAllow, longestDisallow := -1, -1
	for _, prefix := range group.allow {
		if strings.HasPrefix(path, prefix) && len(prefix) > longestAllow {
			longestAllow = len(prefix)
		}
	}
	for _, prefix := range group.disallow {
		if strings.HasPrefix(path, prefix) && len(prefix) > longestDisallow {
			longestDisallow = len(prefix)
		}
	}
	return longestAllow >= longestDisallow
}

func (r *robotsRules) groupFor(userAgent string) *robotsGroup {
	ua := strings.ToLower(userAgent)
	var wildcard *robotsGroup
	for i := range r.groups {
		for _, agent := range r.groups[i].agents {
			if agent == "*" {
				if wildcard == nil {
					wildcard = &r.groups[i]
				}
				continue
			}
			// Prefix match: "googlebot" matches "googlebot/2.1".
			if strings.Contains(ua, agent) {
				return &r.groups[i]
			}
		}
	}
	return wildcard
}
