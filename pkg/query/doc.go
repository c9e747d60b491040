// Package query implements boolean word queries over an inverted index.
//
// A query is built from Has leaves combined with And and Or, or parsed from
// text with Parse. Queries are stateless; evaluation reads the index through
// a View and returns a Set of file paths.
//
//	q := query.And(query.Has("apple"), query.Or(query.Has("pie"), query.Has("tart")))
//	files := q.Evaluate(view)
//
// The same query in text form:
//
//	q, err := query.Parse("apple (pie | tart)")
package query
