package http11

// ParseMethodID converts a method token to a numeric ID.
// Returns MethodUnknown for unrecognized methods.
func ParseMethodID(method string) uint8 {
	switch method {
	case methodGETString:
		return MethodGET
	case methodPOSTString:
		return MethodPOST
	case methodPUTString:
		return MethodPUT
	case methodDELETEString:
		return MethodDELETE
	case methodPATCHString:
		return MethodPATCH
	case methodHEADString:
		return MethodHEAD
	case methodOPTIONSString:
		return MethodOPTIONS
	case methodCONNECTString:
		return MethodCONNECT
	case methodTRACEString:
		return MethodTRACE
	default:
		return MethodUnknown
	}
}

// MethodString returns the string representation of a method ID.
func MethodString(id uint8) string {
	switch id {
	case MethodGET:
		return methodGETString
	case MethodPOST:
		return methodPOSTString
	case MethodPUT:
		return methodPUTString
	case MethodDELETE:
		return methodDELETEString
	case MethodPATCH:
		return methodPATCHString
	case MethodHEAD:
		return methodHEADString
	case MethodOPTIONS:
		return methodOPTIONSString
	case MethodCONNECT:
		return methodCONNECTString
	case MethodTRACE:
		return methodTRACEString
	default:
		return ""
	}
}

// isTokenChar reports whether c may appear in an RFC 7230 token
// (method names and header field names).
func isTokenChar(c byte) bool {
	if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

func isToken(s []byte) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if !isTokenChar(c) {
			return false
		}
	}
	return true
}
