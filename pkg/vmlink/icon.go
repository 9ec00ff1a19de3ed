package vmlink

import _ "embed"

//go:embed assets/logo.ico
var VMLinkLogoIconData []byte
