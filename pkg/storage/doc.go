// Package storage writes job artifacts into the output directory.
//
// Records are exported as an indented JSON array through a temp-file,
// fsync, rename sequence so a crash never leaves a truncated file. The
// failure log is a plain-text report appended once per job, grouped under a
// "=== job <id> ===" header. Discovery checkpoints store the deduplicated
// link set for --resume.
//
// Usage:
//
//	store, err := storage.NewManager("output", log)
//	if err != nil {
//	    return err
//	}
//	if _, err := store.SaveRecords("records.json", records); err != nil {
//	    return err
//	}
//	_, _, err = store.WriteFailureLog("failures.log", jobID, failures, time.Now())
package storage
