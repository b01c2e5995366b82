/*
Package client provides a small Go HTTP client for the Zeta control-plane
API, used by the zeta CLI. Client wraps a base URL and an http.Client with
one method per remote operation; handler sources are sent as multipart
file uploads.
*/
package client
