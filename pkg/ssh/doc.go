/*
Package ssh manages the SSH key pair a VM session hands to its guest.

A key pair is generated while a session negotiates its resources and is
removed when the session is released:

	kp, err := ssh.GenerateKeyPair(filepath.Join(sessionDir, "id_ed25519"), ssh.DefaultKeyGenOptions())
	if err != nil {
		return err
	}
	defer kp.Remove()

	fmt.Println("Private key:", kp.PrivateKeyPath())
	fmt.Println("Public key:", kp.PublicKeyPath())
*/
package ssh
