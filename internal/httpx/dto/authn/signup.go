package authn

// SignupRequest registers a citizen at the provider and mirrors a
// profile row locally. CNIC is the 13-digit national identity number;
// dashes and spaces are tolerated on input.
type SignupRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	CNIC        string `json:"cnic"`
	Password    string `json:"password"`
}

// SignupResponse carries the provider-assigned user id.
type SignupResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// CheckEmailResponse answers the pre-signup availability probe.
type CheckEmailResponse struct {
	Exists bool `json:"exists"`
}
