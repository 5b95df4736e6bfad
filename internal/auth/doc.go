// Package auth verifies learner credentials for tutor-gateway.
//
// Learners authenticate with HS256 JWTs signed with auth.jwt_secret. The
// token's "sub" claim is the learner id; ProfileVerifier resolves it to the
// stored learner profile, which becomes the UserContext of every request.
//
// HTTP endpoints wrap their handlers in RequireBearer, which only checks the
// header shape. The coordinator verifies the credential itself, so an
// unverifiable token never reaches session or agent code.
//
// Tokens are issued with the CLI:
//
//	tutor-gateway token --user alice --ttl 24h
package auth
