// Package protocol owns the Jupyter message contract.
//
// Ownership boundary:
// - header and message shapes
// - message type catalog and registry
// - content shapes and the ok/error reply union
// - codec between Message and signed multipart frames
package protocol
