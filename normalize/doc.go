// Package normalize turns raw source records into canonical documents.
//
// A Normalizer strips HTML markup, drops boilerplate lines such as
// "subscribe" footers and bare links, collapses whitespace, truncates the
// result to a maximum analyzable length and assigns a category. The
// fingerprint of the resulting document is computed over the source type,
// source reference and normalized text, so re-fetching an unchanged item
// produces the same document.
//
// Records with no usable text fail with core.ErrMalformedSource. Such
// records are dropped by callers and never retried.
//
// Category inference is a pure function:
//
//	match := normalize.InferCategory(text, "", rules)
//	if match.Matched {
//		fmt.Println(match.Category)
//	}
package normalize
