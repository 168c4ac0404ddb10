package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint set to a 1-hour TTL on the first block. The remaining blocks
// are sent uncached after the breakpoint, so static instructions go first
// and per-request text follows.
func BuildCachedSystemBlocks(text string, rest ...string) []SystemBlock {
	blocks := []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "1h",
			},
		},
	}
	for _, r := range rest {
		if r == "" {
			continue
		}
		blocks = append(blocks, SystemBlock{Text: r})
	}
	return blocks
}
