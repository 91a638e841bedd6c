// Package sandbox confines every file operation of an IDE session to the
// session's sandbox root.
//
// A sandbox root is ./users/<sessionKey>/, or
// ./users/.projects/<projectID>/<sessionKey>/ when a shared project is open. [Resolve] is the PathGuard: it joins a
// client-supplied relative path under the root and refuses anything that
// would land outside of it, including via symlinks that already exist in
// the sandbox.
package sandbox
