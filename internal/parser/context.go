package parser

// Context remembers the most recently resolved index so that later
// messages which omit the instrument can still be routed.
type Context struct {
	key string
}

// Current returns the stored index, if any.
func (c *Context) Current() (string, bool) {
	return c.key, c.key != ""
}

// Set replaces the stored index.
func (c *Context) Set(key string) {
	c.key = key
}

// ResolveWithContext returns explicit when present, storing it as the
// new context; otherwise it falls back to the stored index.
func (c *Context) ResolveWithContext(explicit string) (string, error) {
	if explicit != "" {
		c.key = explicit
		return explicit, nil
	}
	if c.key != "" {
		return c.key, nil
	}
	return "", unresolved("no index in message and no context")
}
