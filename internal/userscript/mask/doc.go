/*
Package mask compiles userscript URL masks into matchers.

# Syntax

A mask is a URL-shaped string in which "*" stands for any run of characters
(including none). Every other character is literal. The mask is anchored at
both ends, so it must match the whole URL:

	http://example.com/*     matches http://example.com/a/b
	http://example.com/*     does not match https://example.com/a
	*.example.com/*          needs a leading "*" to match any scheme

Matching is case-insensitive. The empty mask is rejected with ErrEmptyMask
and never enters a rule set.
*/
package mask
