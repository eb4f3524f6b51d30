// Package crawler defines the domain types and collaborator interfaces shared
// by the manga crawler subsystems: fetch strategies, extractors, the image
// pipeline, persistence, and the background job machinery.
package crawler
