package constants

const (
	SubmitRequest     = "submit_request"
	DecideRequest     = "decide_request"
	ViewRequest       = "view_request"
	ListAllRequests   = "list_all_requests"
	ViewCertificate   = "view_certificate"
	RevokeCertificate = "revoke_certificate"
	ListStudents      = "list_students"
	CreateStudent     = "create_student"
	UploadProof       = "upload_proof"
)

// PermissionRoles maps each permission to the roles allowed to perform it.
// Ownership checks (a student acting on their own resource) are applied by
// authz.Gate on top of this table.
var PermissionRoles = map[string][]string{
	SubmitRequest:     {Student},
	DecideRequest:     {Faculty, Admin},
	ViewRequest:       {Student, Faculty, Admin},
	ListAllRequests:   {Faculty, Admin},
	ViewCertificate:   {Student, Faculty, Admin},
	RevokeCertificate: {Admin},
	ListStudents:      {Faculty, Admin},
	CreateStudent:     {Admin},
	UploadProof:       {Student},
}

// AllowedRole returns true if role is in the list of allowed roles for the permission.
func AllowedRole(permission, role string) bool {
	roles, ok := PermissionRoles[permission]
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
