package ctap2

// Aaguid is the 16-byte authenticator-model identifier returned in GetInfo.
type Aaguid [16]byte

// appAaguid is a fixed, arbitrary identifier for this software
// authenticator. The digits are not meaningful; they only need to be
// stable and unique enough to identify the implementation in a
// conformance log.
var appAaguid = Aaguid{1, 3, 3, 7, 1, 1, 2, 3, 5, 8, 13, 21, 1, 3, 3, 7}

// GetInfoOptions is the authenticator options map returned from GetInfo.
// WebAuthn/CTAP2 nests these under text keys, not integer tags.
type GetInfoOptions struct {
	Platform              bool `cbor:"plat"`
	ResidentKey           bool `cbor:"rk"`
	UserPresence          bool `cbor:"up"`
	UserVerification      bool `cbor:"uv"`
}

// GetInfoResponse is the authenticatorGetInfo response (§6): a fixed-shape,
// integer-keyed map.
type GetInfoResponse struct {
	Versions   []string       `cbor:"1,keyasint"`
	Extensions []string       `cbor:"2,keyasint"`
	Aaguid     []byte         `cbor:"3,keyasint"`
	Options    GetInfoOptions `cbor:"4,keyasint"`
}

// defaultGetInfoResponse is the fixed response every GetInfo call returns.
func defaultGetInfoResponse() GetInfoResponse {
	return GetInfoResponse{
		Versions:   []string{"FIDO_2_0"},
		Extensions: []string{},
		Aaguid:     appAaguid[:],
		Options: GetInfoOptions{
			Platform:         false,
			ResidentKey:      true,
			UserPresence:     true,
			UserVerification: true,
		},
	}
}

// RelyingPartyEntity is the WebAuthn PublicKeyCredentialRpEntity.
type RelyingPartyEntity struct {
	ID   string `cbor:"id"`
	Name string `cbor:"name,omitempty"`
}

// UserEntity is the WebAuthn PublicKeyCredentialUserEntity.
type UserEntity struct {
	ID          []byte `cbor:"id"`
	Name        string `cbor:"name,omitempty"`
	DisplayName string `cbor:"displayName,omitempty"`
}

// CredentialParam is one entry of pubKeyCredParams.
type CredentialParam struct {
	Type string `cbor:"type"`
	Alg  int32  `cbor:"alg"`
}

// CredentialDescriptor references an existing credential by ID, used in
// excludeList/allowList.
type CredentialDescriptor struct {
	Type string `cbor:"type"`
	ID   []byte `cbor:"id"`
}

// MakeCredentialOptions is the optional "options" map of MakeCredential.
type MakeCredentialOptions struct {
	ResidentKey      bool `cbor:"rk,omitempty"`
	UserVerification bool `cbor:"uv,omitempty"`
}

// MakeCredentialRequest is the authenticatorMakeCredential parameter map
// (§6, integer-keyed at the top level).
type MakeCredentialRequest struct {
	ClientDataHash         []byte                  `cbor:"1,keyasint"`
	RP                     RelyingPartyEntity      `cbor:"2,keyasint"`
	User                   UserEntity              `cbor:"3,keyasint"`
	PubKeyCredParams       []CredentialParam       `cbor:"4,keyasint"`
	ExcludeList            []CredentialDescriptor  `cbor:"5,keyasint,omitempty"`
	Extensions             map[string]interface{}  `cbor:"6,keyasint,omitempty"`
	Options                *MakeCredentialOptions  `cbor:"7,keyasint,omitempty"`
	PinUvAuthParam         []byte                  `cbor:"8,keyasint,omitempty"`
	PinUvAuthProtocol      uint32                  `cbor:"9,keyasint,omitempty"`
	EnterpriseAttestation  uint32                  `cbor:"10,keyasint,omitempty"`
}

// AttestationStatement is the "packed" attestation statement (§6,
// supplemented beyond the CORE's stub requirement).
type AttestationStatement struct {
	Algorithm int32    `cbor:"alg"`
	Signature []byte   `cbor:"sig"`
	X5C       [][]byte `cbor:"x5c,omitempty"`
}

// MakeCredentialResponse is the authenticatorMakeCredential response
// (§6, integer-keyed).
type MakeCredentialResponse struct {
	Format             string                `cbor:"1,keyasint"`
	AuthData           []byte                `cbor:"2,keyasint"`
	AttestationStatement AttestationStatement `cbor:"3,keyasint"`
}

// GetAssertionOptions is the optional "options" map of GetAssertion.
type GetAssertionOptions struct {
	UserPresence     bool `cbor:"up,omitempty"`
	UserVerification bool `cbor:"uv,omitempty"`
}

// GetAssertionRequest is the authenticatorGetAssertion parameter map.
type GetAssertionRequest struct {
	RPID              string                 `cbor:"1,keyasint"`
	ClientDataHash    []byte                 `cbor:"2,keyasint"`
	AllowList         []CredentialDescriptor `cbor:"3,keyasint,omitempty"`
	Extensions        map[string]interface{} `cbor:"4,keyasint,omitempty"`
	Options           *GetAssertionOptions   `cbor:"5,keyasint,omitempty"`
	PinUvAuthParam    []byte                 `cbor:"6,keyasint,omitempty"`
	PinUvAuthProtocol uint32                 `cbor:"7,keyasint,omitempty"`
}

// GetAssertionResponse is the authenticatorGetAssertion response.
type GetAssertionResponse struct {
	Credential CredentialDescriptor `cbor:"1,keyasint"`
	AuthData   []byte               `cbor:"2,keyasint"`
	Signature  []byte               `cbor:"3,keyasint"`
	User       *UserEntity          `cbor:"4,keyasint,omitempty"`
}

// ClientPINRequest is the authenticatorClientPIN parameter map. Only the
// subcommand tag is meaningful here; no PIN protocol is implemented.
type ClientPINRequest struct {
	PinUvAuthProtocol uint32 `cbor:"1,keyasint,omitempty"`
	SubCommand        uint32 `cbor:"2,keyasint"`
}
