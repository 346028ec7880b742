// Package client is the paperledger Go SDK.
//
// It wraps the paperledger HTTP API: appending tamper-evident metadata
// entries, reading and verifying per-resource hash chains, and uploading
// exam papers to the PDF archive.
//
// # Reading a resource's history (most common case)
//
// Reads are public — no token is required:
//
//	c, _ := client.New("http://localhost:8080")
//	entries, err := c.Chain(ctx, "paper:2025:physics")
//	for _, e := range entries {
//	    fmt.Println(e.CreatedAt, e.EntryHash)
//	}
//
// Add chain caching with WithCacheTTL to avoid repeated lookups; cached
// chains are dropped automatically when the same client appends:
//
//	c, _ := client.New(baseURL, client.WithCacheTTL(60*time.Second))
//
// # Appending entries
//
// Appends require an admin token. Supply credentials and the client logs
// in lazily before the first write:
//
//	c, _ := client.New(baseURL, client.WithCredentials("alice", secret))
//	entry, err := c.AppendMetadata(ctx, client.AppendRequest{
//	    ResourceID: "paper:2025:physics",
//	    Metadata:   map[string]any{"status": "reviewed"},
//	    CreatedBy:  "alice",
//	})
//
// AppendWithFiles additionally attaches local files; the server records
// each file's SHA-256 digest inside the entry's metadata so the attachment
// is covered by the entry hash.
//
// # Verifying integrity
//
// VerifyChain asks the server to recompute every hash and signature:
//
//	result, _ := c.VerifyChain(ctx, "paper:2025:physics")
//	if !result.Valid {
//	    fmt.Println("broken at", result.BrokenAt, "reason", result.Reason)
//	}
//
// # The paper archive
//
// UploadPaper posts a tagged PDF; Papers lists the archive with tags
// parsed back out of the stored filenames:
//
//	res, _ := c.UploadPaper(ctx, client.PaperUpload{
//	    Path: "final.pdf", AdminName: "alice", Class: "BSC", Subject: "Physics",
//	    Semester: "3", Year: "2025", ExamType: "Final", Medium: "English",
//	})
//	fmt.Println(res.URL)
package client
