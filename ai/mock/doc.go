// Package mock provides test double implementations of AI service interfaces.
//
// MockEmbedder and MockCompletion let tests run without external AI services
// and script failures such as timeouts or rate limits.
//
// # Usage in Tests
//
//	embedder := mock.NewMockEmbedder()
//	primary := mock.NewFailingCompletion("primary", ai.KindRateLimited, errors.New("429"))
//	backup := mock.NewMockCompletion("backup", `{"headline":"..."}`)
//
//	// Check call counts
//	count := backup.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash
//   - MockCompletion: Returns scripted responses in order, then repeats the last
package mock
