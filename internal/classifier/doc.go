// Package classifier maps protocol event codes to alarm categories.
//
// The classifier is generic over the code type; every protocol family supplies its own
// static table. Codes missing from a table classify as alarm.CategoryUnknown and are
// logged, never rejected.
package classifier
