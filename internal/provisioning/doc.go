// Package provisioning binds BLE sensors to silos through the gateway.
//
// An Orchestrator turns each operation (ping, scan, provision, desintegrate,
// rename) into one gateway command, correlates the response by command id
// and, on success, applies the change through the Synchronizer, which is the
// only writer of a silo's integration fields. Validation, existence and
// conflict checks run before anything is published, so a rejected request
// never reaches the gateway.
//
// Errors are classified by sentinel (ErrValidation, ErrNotFound,
// ErrConflict, ErrTransport, ErrTimeout) or carry a *RemoteError when the
// gateway itself reported a failure.
package provisioning
