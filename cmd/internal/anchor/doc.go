// Package anchor converts between a live text selection and a durable,
// serializable description of that selection (a list of highlight parts),
// and re-applies or removes highlight markers on a document.
//
// The codec never touches a concrete DOM directly. It works through the
// Document interface; HTMLDocument adapts a golang.org/x/net/html tree.
//
// Anchors are structural: an anchor path names an element by walking up to
// the nearest ancestor carrying an id, and a part names a text node by its
// index among that element's children. Anchors resolve correctly only
// against a structurally identical document.
package anchor
